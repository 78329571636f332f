package invoke

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// CommandConfig holds configuration for the command invoker.
type CommandConfig struct {
	// Commands maps a capability to the command that implements it.
	Commands map[string][]string

	// EnvPassthrough contains environment variables to pass to all commands
	EnvPassthrough map[string]string

	// CWD is the working directory for commands (empty = inherit)
	CWD string

	Logger *slog.Logger
}

// CommandInvoker runs capabilities as local commands. Inputs are written to
// stdin as one JSON object. Every stdout line that is a JSON object is
// merged into the output, except lines with "type":"log" which are logged.
type CommandInvoker struct {
	commands       map[string][]string
	envPassthrough map[string]string
	cwd            string
	logger         *slog.Logger
}

// NewCommandInvoker creates a new command invoker.
func NewCommandInvoker(cfg *CommandConfig) *CommandInvoker {
	if cfg == nil {
		cfg = &CommandConfig{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandInvoker{
		commands:       cfg.Commands,
		envPassthrough: cfg.EnvPassthrough,
		cwd:            cfg.CWD,
		logger:         logger,
	}
}

// Invoke runs the command registered for capability.
func (c *CommandInvoker) Invoke(ctx context.Context, agentID, capability string, inputs map[string]any) (map[string]any, error) {
	argv, ok := c.commands[capability]
	if !ok || len(argv) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCapability, capability)
	}

	stdin, err := json.Marshal(inputs)
	if err != nil {
		return nil, fmt.Errorf("marshal inputs: %w", err)
	}

	// Build merged environment
	env := os.Environ()
	for k, v := range c.envPassthrough {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	env = append(env,
		fmt.Sprintf("AGENT_ID=%s", agentID),
		fmt.Sprintf("CAPABILITY=%s", capability),
	)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = env
	cmd.Stdin = bytes.NewReader(stdin)
	if c.cwd != "" {
		cmd.Dir = c.cwd
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	out := make(map[string]any)
	var lastErrLine string
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		scan(stdout, func(line string) { c.processStdoutLine(agentID, capability, line, out) })
	}()
	go func() {
		defer wg.Done()
		scan(stderr, func(line string) {
			lastErrLine = line
			c.logger.Warn("capability stderr",
				slog.String("agent_id", agentID),
				slog.String("capability", capability),
				slog.String("line", line))
		})
	}()

	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if lastErrLine != "" {
				return nil, fmt.Errorf("command exited with code %d: %s", exitErr.ExitCode(), lastErrLine)
			}
			return nil, fmt.Errorf("command exited with code %d", exitErr.ExitCode())
		}
		return nil, fmt.Errorf("wait: %w", err)
	}
	return out, nil
}

func (c *CommandInvoker) processStdoutLine(agentID, capability, line string, out map[string]any) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(line), &obj); err != nil {
		// Not valid JSON - plain log
		c.logger.Info("capability output",
			slog.String("agent_id", agentID),
			slog.String("capability", capability),
			slog.String("line", line))
		return
	}
	if t, _ := obj["type"].(string); t == "log" {
		c.logger.Info("capability log",
			slog.String("agent_id", agentID),
			slog.String("capability", capability),
			slog.Any("message", obj["message"]))
		return
	}
	for k, v := range obj {
		out[k] = v
	}
}

func scan(r io.Reader, fn func(string)) {
	scanner := bufio.NewScanner(r)
	// Increase buffer size for long lines
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fn(line)
	}
}

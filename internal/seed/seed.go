// Package seed loads YAML bundles of agents and workflows and applies them
// to an orchestrator.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/choreography"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/registry"
	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

// Bundle is the content of a seed file.
type Bundle struct {
	Agents    []*types.RegisteredAgent `yaml:"agents"`
	Workflows []*types.Workflow        `yaml:"workflows"`

	// Commands maps a capability to a local command line, served to agents
	// whose "invoke.transport" metadata is "command".
	Commands map[string][]string `yaml:"commands,omitempty"`
}

// SchemaValidator checks documents against the published schemas.
type SchemaValidator interface {
	ValidateAgent(agent *types.RegisteredAgent) error
	ValidateWorkflow(wf *types.Workflow) error
}

// Target receives the bundle contents.
type Target interface {
	RegisterAgent(ctx context.Context, agent *types.RegisteredAgent) (*types.RegisteredAgent, error)
	DefineWorkflow(ctx context.Context, wf *types.Workflow) (*types.Workflow, error)
}

// Load reads and parses a bundle file.
func Load(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	b, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return b, nil
}

// Parse decodes a bundle. Unknown fields are rejected.
func Parse(data []byte) (*Bundle, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var b Bundle
	if err := dec.Decode(&b); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &b, nil
}

// Validate checks every document without side effects: schema, agent
// fields and workflow structure including cycles. All problems are
// reported together. v may be nil.
func (b *Bundle) Validate(v SchemaValidator) error {
	var errs []error
	for capability, argv := range b.Commands {
		if len(argv) == 0 || argv[0] == "" {
			errs = append(errs, fmt.Errorf("command for %s is empty", capability))
		}
	}
	seen := make(map[string]bool)
	for i, a := range b.Agents {
		if a == nil {
			errs = append(errs, fmt.Errorf("agents[%d]: empty entry", i))
			continue
		}
		if v != nil {
			if err := v.ValidateAgent(a); err != nil {
				errs = append(errs, fmt.Errorf("agent %s: %w", a.ID, err))
				continue
			}
		}
		if err := registry.Validate(a); err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[a.ID] {
			errs = append(errs, fmt.Errorf("agent %s: defined twice", a.ID))
		}
		seen[a.ID] = true
	}

	opts := []choreography.Option{choreography.WithLogger(slog.New(slog.DiscardHandler))}
	if v != nil {
		opts = append(opts, choreography.WithSchemaValidator(v))
	}
	scratch := choreography.NewEngine(opts...)
	for i, wf := range b.Workflows {
		if wf == nil {
			errs = append(errs, fmt.Errorf("workflows[%d]: empty entry", i))
			continue
		}
		if _, err := scratch.DefineWorkflow(context.Background(), wf); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Result counts what Apply did.
type Result struct {
	Agents    int
	Workflows int
	Skipped   int
}

// Apply registers the agents, then defines the workflows. Entries that
// already exist (for example restored from a durable store) are skipped;
// any other error stops the apply.
func (b *Bundle) Apply(ctx context.Context, t Target, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var res Result
	for _, a := range b.Agents {
		_, err := t.RegisterAgent(ctx, a)
		switch {
		case errors.Is(err, registry.ErrDuplicateAgent):
			logger.Debug("seed agent exists", slog.String("agent_id", a.ID))
			res.Skipped++
		case err != nil:
			return res, fmt.Errorf("seed agent %s: %w", a.ID, err)
		default:
			res.Agents++
		}
	}
	for _, wf := range b.Workflows {
		_, err := t.DefineWorkflow(ctx, wf)
		switch {
		case errors.Is(err, choreography.ErrDuplicateWorkflow):
			logger.Debug("seed workflow exists", slog.String("workflow_id", wf.ID))
			res.Skipped++
		case err != nil:
			return res, fmt.Errorf("seed workflow %s: %w", wf.ID, err)
		default:
			res.Workflows++
		}
	}
	logger.Info("seed applied",
		slog.Int("agents", res.Agents),
		slog.Int("workflows", res.Workflows),
		slog.Int("skipped", res.Skipped),
	)
	return res, nil
}

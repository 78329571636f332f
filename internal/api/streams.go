package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	streamBuffer = 64
)

var errBadQuery = errors.New("invalid stream query")

// stream is a live bus subscription feeding an HTTP client.
type stream struct {
	events <-chan types.ChoreographyEvent
	close  func()
}

// openStream subscribes to the event types named by the "types" query
// parameter (all types by default), keeping only events of correlation_id
// when it is set. Delivery stops when done is closed.
func (h *Handlers) openStream(r *http.Request, done <-chan struct{}) (*stream, error) {
	q := r.URL.Query()
	eventTypes, err := eventTypesParam(q, types.AllEventTypes())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadQuery, err)
	}
	correlationID := q.Get("correlation_id")

	ch := make(chan types.ChoreographyEvent, streamBuffer)
	id, err := h.maestro.SubscribeToEvents(eventTypes, "", func(_ context.Context, ev types.ChoreographyEvent) error {
		if correlationID != "" && ev.CorrelationID != correlationID {
			return nil
		}
		select {
		case ch <- ev:
		case <-done:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &stream{
		events: ch,
		close:  func() { h.maestro.UnsubscribeFromEvents(id) },
	}, nil
}

// backlog returns the stored events of a correlation that follow the event
// with ID lastEventID, or all of them when lastEventID is empty or unknown.
func (h *Handlers) backlog(correlationID, lastEventID string) []types.ChoreographyEvent {
	if correlationID == "" {
		return nil
	}
	events, err := h.maestro.GetEventsByCorrelation(correlationID)
	if err != nil {
		return nil
	}
	for i, ev := range events {
		if ev.ID == lastEventID {
			return events[i+1:]
		}
	}
	return events
}

// StreamEvents handles GET /api/v1/events/stream as Server-Sent Events.
// With correlation_id set, stored events of the correlation are replayed
// first, resuming after Last-Event-ID when the client sends it.
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := GetRequestID(ctx, r)
	start := time.Now()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorResponse(w, r, http.StatusInternalServerError, "streaming not supported", nil)
		return
	}

	s, err := h.openStream(r, ctx.Done())
	if err != nil {
		h.respondStreamError(w, r, err)
		return
	}
	defer s.close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Info("SSE connection opened",
		slog.String("request_id", requestID),
		slog.String("remote_addr", r.RemoteAddr),
	)

	// Live events already covered by the replay are skipped by sequence.
	var replayed uint64
	for _, ev := range h.backlog(r.URL.Query().Get("correlation_id"), r.Header.Get("Last-Event-ID")) {
		h.writeSSE(w, flusher, &ev)
		replayed = max(replayed, ev.Sequence)
	}

	heartbeat := time.NewTicker(h.config.StreamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("SSE connection closed",
				slog.String("request_id", requestID),
				slog.Duration("duration", time.Since(start)),
			)
			return
		case ev := <-s.events:
			if ev.Sequence <= replayed {
				continue
			}
			h.writeSSE(w, flusher, &ev)
		case <-heartbeat.C:
			h.writeComment(w, flusher, "heartbeat")
		}
	}
}

// writeSSE writes an event in SSE format and flushes.
func (h *Handlers) writeSSE(w http.ResponseWriter, flusher http.Flusher, ev *types.ChoreographyEvent) {
	if _, err := w.Write(ev.ToSSE()); err != nil {
		h.logger.Error("failed to write SSE event", "error", err)
		return
	}
	flusher.Flush()
}

// writeComment writes an SSE comment (for heartbeats).
func (h *Handlers) writeComment(w http.ResponseWriter, flusher http.Flusher, comment string) {
	if _, err := w.Write([]byte(": " + comment + "\n\n")); err != nil {
		h.logger.Error("failed to write SSE comment", "error", err)
		return
	}
	flusher.Flush()
}

func (h *Handlers) respondStreamError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errBadQuery) {
		writeErrorResponse(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}
	h.respondError(w, r, err)
}

// ServeWebSocket handles GET /api/v1/events/ws. Events are sent as JSON
// text messages; client messages are ignored.
func (h *Handlers) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Validate the query before upgrading so errors can be reported as JSON.
	s, err := h.openStream(r, ctx.Done())
	if err != nil {
		h.respondStreamError(w, r, err)
		return
	}
	defer s.close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	go h.readPump(conn, cancel)

	ping := time.NewTicker(wsPongWait * 9 / 10)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteWait))
			return
		case ev := <-s.events:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(&ev); err != nil {
				h.logger.Debug("websocket write failed", slog.String("error", err.Error()))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames so control messages are processed, and
// cancels the stream when the client goes away.
func (h *Handlers) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handlers) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.config.CORSOrigins) == 0 || h.originAllowed(origin) {
		return true
	}
	h.logger.Warn("websocket origin rejected", slog.String("origin", origin))
	return false
}

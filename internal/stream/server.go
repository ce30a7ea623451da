package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wdonsong/huntly/internal/async"
	"github.com/wdonsong/huntly/internal/config"
	huntlyerrors "github.com/wdonsong/huntly/internal/errors"
	"github.com/wdonsong/huntly/internal/logging"
)

// ServerBackend streams through the managed Huntly service over a persistent
// WebSocket connection. The service performs the AI call itself and relays
// incremental results; cancelling tears the connection down.
type ServerBackend struct {
	cfg    *config.Manager
	logger logging.Logger
	dialer *websocket.Dialer
}

// NewServerBackend builds the managed-server backend.
func NewServerBackend(cfg *config.Manager, logger logging.Logger) *ServerBackend {
	return &ServerBackend{
		cfg:    cfg,
		logger: logging.OrNop(logger),
		dialer: &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
	}
}

// Kind identifies the managed-server path.
func (b *ServerBackend) Kind() Kind {
	return KindServer
}

// startFrame opens a stream on the service side.
type startFrame struct {
	Type        string `json:"type"`
	TaskID      string `json:"task_id"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content"`
	Instruction string `json:"instruction"`
	Model       string `json:"model,omitempty"`
}

// eventFrame is one message relayed back by the service.
type eventFrame struct {
	Type    string `json:"type"`
	Data    string `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

type serverHandle struct {
	gate   *gate
	cancel context.CancelFunc
	once   sync.Once

	mu   sync.Mutex
	conn *websocket.Conn
}

func (h *serverHandle) setConn(conn *websocket.Conn) {
	h.mu.Lock()
	h.conn = conn
	h.mu.Unlock()
}

func (h *serverHandle) Cancel() {
	h.once.Do(func() {
		h.gate.Cancel()
		h.cancel()
		h.mu.Lock()
		conn := h.conn
		h.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	})
}

// Start validates the service configuration synchronously and returns a
// handle before dialing, so a cancel that beats the dial still prevents any
// output from reaching the tab.
func (b *ServerBackend) Start(ctx context.Context, req Request, cb Callbacks) (Handle, error) {
	if !b.cfg.ServerConfigured() {
		return nil, huntlyerrors.NewConfigurationError("server", "no base endpoint configured")
	}
	wsURL, err := StreamURL(b.cfg.Get().Server.BaseURL)
	if err != nil {
		return nil, huntlyerrors.NewConfigurationError("server", err.Error())
	}

	g := newGate(cb)
	streamCtx, cancel := context.WithCancel(ctx)
	handle := &serverHandle{gate: g, cancel: cancel}

	async.Go(b.logger, "stream-server-"+req.TaskID, func() {
		defer cancel()
		if err := b.run(streamCtx, wsURL, req, g, handle); err != nil {
			g.Fail(err)
		}
	})

	return handle, nil
}

func (b *ServerBackend) run(ctx context.Context, wsURL string, req Request, g *gate, handle *serverHandle) error {
	header := http.Header{}
	if token := b.cfg.Get().Server.Token; token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := b.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if g.Cancelled() {
			return nil
		}
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return huntlyerrors.NewTransportError("server stream dial", status, err)
	}
	defer func() { _ = conn.Close() }()
	handle.setConn(conn)

	// The cancel may have landed between dial and setConn.
	if g.Cancelled() {
		return nil
	}

	start := startFrame{
		Type:        "start",
		TaskID:      req.TaskID,
		Title:       req.Title,
		Content:     req.Content,
		Instruction: req.Instruction,
		Model:       req.Model,
	}
	if err := conn.WriteJSON(start); err != nil {
		if g.Cancelled() {
			return nil
		}
		return huntlyerrors.NewTransportError("server stream start", 0, err)
	}

	b.logger.Debug("[task:%s] streaming via %s", req.TaskID, wsURL)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if g.Cancelled() {
				return nil
			}
			return huntlyerrors.NewTransportError("server stream read", 0, err)
		}

		var frame eventFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			b.logger.Debug("[task:%s] skip undecodable frame: %v", req.TaskID, err)
			continue
		}

		switch frame.Type {
		case "chunk":
			g.Chunk(frame.Data)
		case "done":
			g.End()
			return nil
		case "error":
			msg := frame.Message
			if msg == "" {
				msg = "stream failed"
			}
			return huntlyerrors.NewTransportError("server stream", 0, fmt.Errorf("%s", msg))
		default:
			// Heartbeats and future frame types pass through silently.
		}
	}
}

// StreamURL derives the WebSocket streaming endpoint from the service base
// URL.
func StreamURL(baseURL string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "wss://"), strings.HasPrefix(base, "ws://"):
	default:
		return "", fmt.Errorf("unsupported base url %q", baseURL)
	}
	return base + "/api/ai/stream", nil
}

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/wdonsong/huntly/internal/async"
	"github.com/wdonsong/huntly/internal/config"
	"github.com/wdonsong/huntly/internal/dispatch"
	"github.com/wdonsong/huntly/internal/logging"
)

const (
	helloTimeout      = 10 * time.Second
	defaultAckTimeout = 15 * time.Second
	shutdownTimeout   = 5 * time.Second
)

var errTabGone = errors.New("tab disconnected")

// CommandHandler consumes inbound commands and learns about tab departures.
// The dispatcher implements it.
type CommandHandler interface {
	Handle(ctx context.Context, tabID string, cmd dispatch.Command) (any, error)
	TabClosed(tabID string)
}

// Bridge hosts the local WebSocket endpoint tabs connect to. Each tab
// performs a hello/welcome handshake carrying its tab id, after which
// commands flow in and messages flow out over the same socket. The bridge is
// the dispatch.Sender for every connected tab.
type Bridge struct {
	listenAddr string
	token      string
	ackTimeout time.Duration
	logger     logging.Logger
	handler    CommandHandler

	engine   *gin.Engine
	upgrader websocket.Upgrader

	mu        sync.RWMutex
	ln        net.Listener
	httpSrv   *http.Server
	addr      string
	tabs      map[string]*tabConn
	startTime time.Time
}

// New builds a bridge from the daemon bridge configuration. Bind must be
// called before Start so inbound commands have somewhere to go.
func New(cfg config.Bridge, logger logging.Logger) *Bridge {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowWebSockets = true
	engine.Use(cors.New(corsConfig))

	listenAddr := strings.TrimSpace(cfg.ListenAddr)
	if listenAddr == "" {
		listenAddr = config.DefaultBridgeListenAddr
	}

	b := &Bridge{
		listenAddr: listenAddr,
		token:      strings.TrimSpace(cfg.Token),
		ackTimeout: defaultAckTimeout,
		logger:     logging.OrNop(logger),
		engine:     engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Tabs connect from extension origins; the handshake token is
			// the actual gate.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		tabs: make(map[string]*tabConn),
	}
	b.setupRoutes()
	return b
}

// Bind attaches the command handler.
func (b *Bridge) Bind(handler CommandHandler) {
	b.mu.Lock()
	b.handler = handler
	b.mu.Unlock()
}

func (b *Bridge) setupRoutes() {
	api := b.engine.Group("/api")
	api.GET("/health", b.handleHealth)
	b.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	b.engine.GET("/ws", b.handleWS)
}

// Addr returns the bound listen address, useful when the port was 0.
func (b *Bridge) Addr() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.addr
}

// TabConnected reports whether a tab with the given id is attached.
func (b *Bridge) TabConnected(tabID string) bool {
	return b.tab(tabID) != nil
}

// Start binds the listener and begins serving. The address must be loopback;
// the bridge is a local control channel, never a network service.
func (b *Bridge) Start() error {
	host, _, err := net.SplitHostPort(b.listenAddr)
	if err != nil {
		return fmt.Errorf("invalid bridge listen_addr %q: %w", b.listenAddr, err)
	}
	if host != "localhost" {
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			return fmt.Errorf("bridge listen_addr must bind to loopback, got %q", b.listenAddr)
		}
	}

	ln, err := net.Listen("tcp", b.listenAddr)
	if err != nil {
		return fmt.Errorf("listen %q: %w", b.listenAddr, err)
	}

	httpSrv := &http.Server{
		Handler:           b.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	b.mu.Lock()
	b.ln = ln
	b.httpSrv = httpSrv
	b.addr = ln.Addr().String()
	b.startTime = time.Now()
	b.mu.Unlock()

	b.logger.Info("bridge listening on %s", ln.Addr())
	async.Go(b.logger, "bridge-serve", func() {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.logger.Error("bridge serve: %v", err)
		}
	})
	return nil
}

// Run starts the bridge and blocks until ctx is cancelled, then shuts it
// down gracefully.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.Start(); err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return b.Close(shutdownCtx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close disconnects every tab and shuts the HTTP server down.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	srv := b.httpSrv
	tabs := b.tabs
	b.httpSrv = nil
	b.ln = nil
	b.addr = ""
	b.tabs = make(map[string]*tabConn)
	b.mu.Unlock()

	for _, t := range tabs {
		t.failPending(errTabGone)
		t.close()
	}
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (b *Bridge) handleHealth(c *gin.Context) {
	b.mu.RLock()
	uptime := time.Since(b.startTime)
	tabCount := len(b.tabs)
	b.mu.RUnlock()

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": protocolVersion,
		"uptime":  uptime.String(),
		"tabs":    tabCount,
	})
}

func (b *Bridge) handleWS(c *gin.Context) {
	conn, err := b.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	if err := b.accept(conn); err != nil {
		b.logger.Warn("tab handshake rejected: %v", err)
		_ = conn.Close()
	}
}

// accept performs the hello/welcome handshake and registers the tab.
func (b *Bridge) accept(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(helloTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	var hello inboundFrame
	if err := json.Unmarshal(data, &hello); err != nil {
		return fmt.Errorf("parse hello: %w", err)
	}
	if hello.Type != frameHello {
		return fmt.Errorf("expected hello, got %q", hello.Type)
	}
	tabID := strings.TrimSpace(hello.TabID)
	if tabID == "" {
		return errors.New("hello carries no tab_id")
	}
	if b.token != "" && hello.Token != b.token {
		return errors.New("unauthorized")
	}
	_ = conn.SetReadDeadline(time.Time{})

	t := newTabConn(tabID, conn)
	if err := t.writeJSON(welcomeFrame{Type: frameWelcome, Version: protocolVersion}); err != nil {
		return err
	}

	b.mu.Lock()
	if prev, ok := b.tabs[tabID]; ok {
		prev.failPending(errTabGone)
		prev.close()
	}
	b.tabs[tabID] = t
	b.mu.Unlock()

	b.logger.Info("tab %s connected (%s)", tabID, strings.TrimSpace(hello.Client))
	async.Go(b.logger, "tab-read-"+tabID, func() {
		b.readLoop(t)
	})
	return nil
}

// readLoop consumes frames from one tab until the socket dies. Commands are
// handled off this goroutine: a process command blocks on the preview ack,
// which arrives through this very loop.
func (b *Bridge) readLoop(t *tabConn) {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			break
		}
		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			b.logger.Warn("tab %s sent unparseable frame: %v", t.id, err)
			continue
		}
		switch frame.Type {
		case frameCommand:
			b.dispatchCommand(t, frame)
		case frameAck:
			var ackErr error
			if !frame.OK {
				ackErr = fmt.Errorf("tab rejected request: %s", frame.Error)
			}
			t.resolveAck(frame.ID, ackErr)
		default:
			b.logger.Debug("tab %s sent unknown frame type %q", t.id, frame.Type)
		}
	}

	b.mu.Lock()
	current := b.tabs[t.id] == t
	if current {
		delete(b.tabs, t.id)
	}
	handler := b.handler
	b.mu.Unlock()

	t.failPending(errTabGone)
	t.close()
	if current {
		b.logger.Info("tab %s disconnected", t.id)
		if handler != nil {
			handler.TabClosed(t.id)
		}
	}
}

func (b *Bridge) dispatchCommand(t *tabConn, frame inboundFrame) {
	if frame.Command == nil || frame.ID == "" {
		b.logger.Warn("tab %s sent malformed command frame", t.id)
		return
	}
	cmd := *frame.Command
	async.Go(b.logger, "command-"+string(cmd.Type), func() {
		b.mu.RLock()
		handler := b.handler
		b.mu.RUnlock()

		reply := replyFrame{Type: frameReply, ID: frame.ID}
		if handler == nil {
			reply.Error = "bridge has no command handler"
		} else if result, err := handler.Handle(context.Background(), t.id, cmd); err != nil {
			reply.Error = err.Error()
		} else {
			reply.OK = true
			if result != nil {
				data, err := json.Marshal(result)
				if err != nil {
					reply.OK = false
					reply.Error = fmt.Sprintf("encode reply: %v", err)
				} else {
					reply.Data = data
				}
			}
		}
		if err := t.writeJSON(reply); err != nil {
			b.logger.Warn("reply to tab %s failed: %v", t.id, err)
		}
	})
}

func (b *Bridge) tab(tabID string) *tabConn {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tabs[tabID]
}

// Send delivers one message to a connected tab.
func (b *Bridge) Send(tabID string, msg dispatch.Message) error {
	t := b.tab(tabID)
	if t == nil {
		return fmt.Errorf("tab %s is not connected", tabID)
	}
	return t.writeJSON(messageFrame{Type: frameMessage, Message: msg})
}

// Request delivers a message the tab must acknowledge and waits for the ack.
func (b *Bridge) Request(ctx context.Context, tabID string, msg dispatch.Message) error {
	t := b.tab(tabID)
	if t == nil {
		return fmt.Errorf("tab %s is not connected", tabID)
	}
	return t.request(ctx, requestFrame{Type: frameRequest, Message: msg}, b.ackTimeout)
}

package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wdonsong/huntly/internal/async"
	"github.com/wdonsong/huntly/internal/config"
	"github.com/wdonsong/huntly/internal/library"
	"github.com/wdonsong/huntly/internal/logging"
	"github.com/wdonsong/huntly/internal/presence"
	"github.com/wdonsong/huntly/internal/stream"
	"github.com/wdonsong/huntly/internal/task"
)

const draftExcerptLimit = 500

// Library is the slice of the service API the dispatcher needs.
type Library interface {
	ExistsByURL(ctx context.Context, rawURL string) (int64, error)
	Save(ctx context.Context, req library.SaveRequest) (int64, error)
	Placement(ctx context.Context, pageID int64) (library.Placement, error)
	Detail(ctx context.Context, pageID int64) (library.Page, error)
	CollectionTree(ctx context.Context) ([]library.Collection, error)
	Shortcuts(ctx context.Context) ([]library.RemoteShortcut, error)
	Proxy(ctx context.Context, method, path string, body []byte) (library.ProxyResult, error)
}

// Sender delivers outbound messages to a tab. Send is fire-and-forget;
// Request waits for the tab to acknowledge, which the preview handshake
// relies on.
type Sender interface {
	Send(tabID string, msg Message) error
	Request(ctx context.Context, tabID string, msg Message) error
}

// Dispatcher routes inbound commands to the right backend and relays stream
// events back to the originating tab. It owns the task registry and tab
// tracker for the lifetime of the daemon.
type Dispatcher struct {
	baseCtx  context.Context
	cfg      *config.Manager
	registry *task.Registry
	tracker  *task.Tracker
	backends map[stream.Kind]stream.Backend
	checker  *presence.Checker
	lib      Library
	sender   Sender
	logger   logging.Logger
	metrics  *Metrics
}

// New wires a dispatcher. baseCtx bounds the lifetime of every stream it
// starts; cancelling it tears the daemon's tasks down.
func New(baseCtx context.Context, cfg *config.Manager, lib Library, sender Sender, backends []stream.Backend, logger logging.Logger, metrics *Metrics) (*Dispatcher, error) {
	logger = logging.OrNop(logger)
	checker, err := presence.NewChecker(lib, logger)
	if err != nil {
		return nil, err
	}
	registry := task.NewRegistry(logger)
	byKind := make(map[stream.Kind]stream.Backend, len(backends))
	for _, b := range backends {
		byKind[b.Kind()] = b
	}
	return &Dispatcher{
		baseCtx:  baseCtx,
		cfg:      cfg,
		registry: registry,
		tracker:  task.NewTracker(registry),
		backends: byKind,
		checker:  checker,
		lib:      lib,
		sender:   sender,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// Registry exposes the task registry, mainly for tests and status handlers.
func (d *Dispatcher) Registry() *task.Registry {
	return d.registry
}

// Tracker exposes the tab association tracker.
func (d *Dispatcher) Tracker() *task.Tracker {
	return d.tracker
}

// Handle executes one inbound command from tabID. The returned value, when
// non-nil, is the synchronous reply; stream output arrives later through the
// sender. Errors are reported to the immediate caller only.
func (d *Dispatcher) Handle(ctx context.Context, tabID string, cmd Command) (any, error) {
	switch cmd.Type {
	case CmdProcess:
		return d.handleProcess(ctx, tabID, cmd)
	case CmdCancel:
		return d.handleCancel(cmd)
	case CmdToolbarData:
		return d.toolbarData(ctx)
	case CmdShortcuts:
		return d.cfg.Shortcuts(), nil
	case CmdPresenceCheck, CmdBadgeRefresh:
		return d.handlePresence(ctx, tabID, cmd)
	case CmdOpenTab:
		return d.handleOpenTab(tabID, cmd)
	case CmdProxyRequest:
		return d.handleProxy(ctx, cmd)
	case CmdSaveAndOpen:
		return d.handleSaveAndOpen(ctx, tabID, cmd)
	default:
		return nil, fmt.Errorf("unknown command type %q", cmd.Type)
	}
}

// TabClosed tears down everything tied to a closing tab: every associated
// task is cancelled and the badge cache entry is evicted.
func (d *Dispatcher) TabClosed(tabID string) {
	if n := d.tracker.CancelAllForTab(tabID); n > 0 {
		d.logger.Info("tab %s closed, cancelled %d task(s)", tabID, n)
	}
	d.checker.Evict(tabID)
}

func (d *Dispatcher) resolveBackend(kind stream.Kind) (stream.Backend, error) {
	if kind == "" {
		if d.cfg.ServerConfigured() {
			kind = stream.KindServer
		} else {
			kind = stream.KindProvider
		}
	}
	backend, ok := d.backends[kind]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
	return backend, nil
}

func (d *Dispatcher) resolveInstruction(cmd Command) (string, error) {
	if instr := strings.TrimSpace(cmd.Instruction); instr != "" {
		return instr, nil
	}
	if cmd.ShortcutID == "" {
		return "", fmt.Errorf("process command carries neither instruction nor shortcut_id")
	}
	for _, s := range d.cfg.Shortcuts() {
		if s.ID == cmd.ShortcutID {
			if !s.Enabled {
				return "", fmt.Errorf("shortcut %q is disabled", cmd.ShortcutID)
			}
			return s.Instruction, nil
		}
	}
	return "", fmt.Errorf("unknown shortcut %q", cmd.ShortcutID)
}

func (d *Dispatcher) handleProcess(ctx context.Context, tabID string, cmd Command) (any, error) {
	if strings.TrimSpace(cmd.Content) == "" {
		return nil, fmt.Errorf("process command carries no content")
	}
	instruction, err := d.resolveInstruction(cmd)
	if err != nil {
		return nil, err
	}
	backend, err := d.resolveBackend(cmd.Backend)
	if err != nil {
		return nil, err
	}

	taskID := cmd.TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}

	// Ask the tab to raise its preview surface before any output exists to
	// show on it. The stream does not start until the surface acknowledges.
	if !cmd.SkipPreview {
		previewMsg := Message{
			Type:      MsgPreview,
			TaskID:    taskID,
			Shortcuts: d.cfg.EnabledShortcuts(),
			Draft: &DraftItem{
				Title:   cmd.Title,
				URL:     cmd.URL,
				Content: excerpt(cmd.Content, draftExcerptLimit),
			},
		}
		if err := d.sender.Request(ctx, tabID, previewMsg); err != nil {
			return nil, fmt.Errorf("preview handshake: %w", err)
		}
	}

	if err := d.sender.Send(tabID, Message{Type: MsgProcessingStarted, TaskID: taskID, Title: cmd.Title}); err != nil {
		return nil, fmt.Errorf("tab unreachable: %w", err)
	}

	kind := backend.Kind()
	started := time.Now()
	var finished atomic.Bool
	finish := func(outcome string) {
		finished.Store(true)
		d.registry.Remove(taskID)
		d.tracker.Disassociate(taskID)
		d.metrics.TaskFinished(string(kind), outcome, time.Since(started))
	}

	callbacks := stream.Callbacks{
		OnChunk: func(delta, accumulated string) {
			msg := Message{Type: MsgChunk, TaskID: taskID, Data: delta, Accumulated: accumulated}
			if err := d.sender.Send(tabID, msg); err != nil {
				// No recipient to retry toward: stop producing instead.
				d.logger.Warn("task %s: relay to tab %s failed (%v), cancelling", taskID, tabID, err)
				async.Go(d.logger, "cancel-unreachable-"+taskID, func() {
					d.registry.Cancel(taskID)
				})
			} else {
				d.metrics.ChunkRelayed()
			}
		},
		OnEnd: func(final string) {
			finish("completed")
			if err := d.sender.Send(tabID, Message{Type: MsgResult, TaskID: taskID, Content: final}); err != nil {
				d.logger.Warn("task %s: result relay failed: %v", taskID, err)
			}
		},
		OnError: func(streamErr error) {
			finish("failed")
			d.logger.Warn("task %s failed: %v", taskID, streamErr)
			msg := Message{Type: MsgProcessingError, TaskID: taskID, Message: streamErr.Error()}
			if err := d.sender.Send(tabID, msg); err != nil {
				d.logger.Warn("task %s: error relay failed: %v", taskID, err)
			}
		},
	}

	req := stream.Request{
		TaskID:      taskID,
		TabID:       tabID,
		Title:       cmd.Title,
		Content:     cmd.Content,
		Instruction: instruction,
		Provider:    cmd.Provider,
		Model:       cmd.Model,
	}
	handle, err := backend.Start(d.baseCtx, req, callbacks)
	if err != nil {
		// Configuration failure: surfaced to the tab, task never registered.
		msg := Message{Type: MsgProcessingError, TaskID: taskID, Message: err.Error()}
		if sendErr := d.sender.Send(tabID, msg); sendErr != nil {
			d.logger.Warn("task %s: error relay failed: %v", taskID, sendErr)
		}
		return nil, err
	}

	wrapped := task.HandleFunc(func() {
		handle.Cancel()
		d.tracker.Disassociate(taskID)
		d.metrics.TaskFinished(string(kind), "cancelled", time.Since(started))
	})
	d.registry.Register(taskID, wrapped)
	d.tracker.Associate(tabID, taskID)
	d.metrics.TaskStarted(string(kind))

	// The stream may already have reached its terminal event before the
	// registration above; clean the stale entry up instead of leaking it.
	if finished.Load() {
		d.registry.Remove(taskID)
		d.tracker.Disassociate(taskID)
	}

	return ProcessAccepted{TaskID: taskID}, nil
}

func (d *Dispatcher) handleCancel(cmd Command) (any, error) {
	if cmd.TaskID == "" {
		return nil, fmt.Errorf("cancel command carries no task_id")
	}
	cancelled := d.registry.Cancel(cmd.TaskID)
	d.tracker.Disassociate(cmd.TaskID)
	return CancelResult{Cancelled: cancelled}, nil
}

func (d *Dispatcher) handlePresence(ctx context.Context, tabID string, cmd Command) (any, error) {
	if strings.TrimSpace(cmd.URL) == "" {
		return nil, fmt.Errorf("presence check carries no url")
	}
	force := cmd.Force || cmd.Type == CmdBadgeRefresh
	state, err := d.checker.Check(ctx, tabID, cmd.URL, force)
	if err != nil {
		// Collapses to not-saved for the badge; the checker does not cache
		// the failed decision.
		d.logger.Debug("presence check for tab %s degraded to %s: %v", tabID, state, err)
	}
	if sendErr := d.sender.Send(tabID, Message{Type: MsgBadgeState, URL: cmd.URL, State: string(state)}); sendErr != nil {
		d.logger.Warn("badge relay to tab %s failed: %v", tabID, sendErr)
	}
	return PresenceResult{State: string(state)}, nil
}

func (d *Dispatcher) handleOpenTab(tabID string, cmd Command) (any, error) {
	if strings.TrimSpace(cmd.URL) == "" {
		return nil, fmt.Errorf("open_tab command carries no url")
	}
	if err := d.sender.Send(tabID, Message{Type: MsgOpenTab, URL: cmd.URL}); err != nil {
		return nil, err
	}
	return nil, nil
}

func (d *Dispatcher) handleProxy(ctx context.Context, cmd Command) (any, error) {
	if cmd.Method == "" || cmd.Path == "" {
		return nil, fmt.Errorf("proxy_request requires method and path")
	}
	result, err := d.lib.Proxy(ctx, cmd.Method, cmd.Path, cmd.Body)
	if err != nil {
		return nil, err
	}
	return ProxyReply{StatusCode: result.StatusCode, Body: result.Body}, nil
}

// handleSaveAndOpen chains save, placement, detail, and the collection tree,
// returning the merged result or the first step that failed.
func (d *Dispatcher) handleSaveAndOpen(ctx context.Context, tabID string, cmd Command) (any, error) {
	if cmd.Item == nil {
		return nil, fmt.Errorf("save_and_open carries no item")
	}
	pageID, err := d.lib.Save(ctx, *cmd.Item)
	if err != nil {
		return nil, &StepError{Step: "save", Err: err}
	}
	placement, err := d.lib.Placement(ctx, pageID)
	if err != nil {
		return nil, &StepError{Step: "placement", Err: err}
	}
	page, err := d.lib.Detail(ctx, pageID)
	if err != nil {
		return nil, &StepError{Step: "detail", Err: err}
	}
	collections, err := d.lib.CollectionTree(ctx)
	if err != nil {
		return nil, &StepError{Step: "collections", Err: err}
	}

	// The resource just changed state; the cached badge decision is stale.
	d.checker.Evict(tabID)

	return SaveAndOpenResult{Page: page, Placement: placement, Collections: collections}, nil
}

func excerpt(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

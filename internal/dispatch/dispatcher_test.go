package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wdonsong/huntly/internal/config"
	huntlyerrors "github.com/wdonsong/huntly/internal/errors"
	"github.com/wdonsong/huntly/internal/library"
	"github.com/wdonsong/huntly/internal/logging"
	"github.com/wdonsong/huntly/internal/stream"
)

// fakeBackend hands the test direct control over the stream callbacks while
// honouring the suppression contract: after Cancel nothing is delivered.
type fakeBackend struct {
	kind     stream.Kind
	startErr error

	mu         sync.Mutex
	reqs       []stream.Request
	cb         stream.Callbacks
	cancelled  bool
	endInStart bool
}

func (b *fakeBackend) Kind() stream.Kind { return b.kind }

func (b *fakeBackend) Start(_ context.Context, req stream.Request, cb stream.Callbacks) (stream.Handle, error) {
	if b.startErr != nil {
		return nil, b.startErr
	}
	b.mu.Lock()
	b.reqs = append(b.reqs, req)
	b.cb = cb
	b.mu.Unlock()
	if b.endInStart {
		cb.OnEnd("done")
	}
	return handleFunc(func() {
		b.mu.Lock()
		b.cancelled = true
		b.mu.Unlock()
	}), nil
}

type handleFunc func()

func (f handleFunc) Cancel() { f() }

func (b *fakeBackend) emitChunk(delta, accumulated string) {
	b.mu.Lock()
	cb, cancelled := b.cb, b.cancelled
	b.mu.Unlock()
	if cancelled {
		return
	}
	cb.OnChunk(delta, accumulated)
}

func (b *fakeBackend) emitEnd(final string) {
	b.mu.Lock()
	cb, cancelled := b.cb, b.cancelled
	b.mu.Unlock()
	if cancelled {
		return
	}
	cb.OnEnd(final)
}

func (b *fakeBackend) emitError(err error) {
	b.mu.Lock()
	cb, cancelled := b.cb, b.cancelled
	b.mu.Unlock()
	if cancelled {
		return
	}
	cb.OnError(err)
}

func (b *fakeBackend) wasCancelled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelled
}

func (b *fakeBackend) lastRequest() stream.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.reqs) == 0 {
		return stream.Request{}
	}
	return b.reqs[len(b.reqs)-1]
}

type fakeSender struct {
	mu       sync.Mutex
	sent     []Message
	requests []Message
	sendErr  func(msg Message) error
	onAck    func()
}

func (s *fakeSender) Send(_ string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		if err := s.sendErr(msg); err != nil {
			return err
		}
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSender) Request(_ context.Context, _ string, msg Message) error {
	s.mu.Lock()
	s.requests = append(s.requests, msg)
	ack := s.onAck
	s.mu.Unlock()
	if ack != nil {
		ack()
	}
	return nil
}

func (s *fakeSender) messages(types ...MessageType) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(types) == 0 {
		return append([]Message(nil), s.sent...)
	}
	var out []Message
	for _, msg := range s.sent {
		for _, typ := range types {
			if msg.Type == typ {
				out = append(out, msg)
			}
		}
	}
	return out
}

func (s *fakeSender) previewCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type fakeLibrary struct {
	saveID       int64
	saveErr      error
	placementErr error
	shortcuts    []library.RemoteShortcut
	shortcutsErr error
}

func (f *fakeLibrary) ExistsByURL(context.Context, string) (int64, error) { return 0, nil }

func (f *fakeLibrary) Save(context.Context, library.SaveRequest) (int64, error) {
	return f.saveID, f.saveErr
}

func (f *fakeLibrary) Placement(_ context.Context, pageID int64) (library.Placement, error) {
	return library.Placement{PageID: pageID, LibraryType: "my_list"}, f.placementErr
}

func (f *fakeLibrary) Detail(_ context.Context, pageID int64) (library.Page, error) {
	return library.Page{ID: pageID, Title: "saved"}, nil
}

func (f *fakeLibrary) CollectionTree(context.Context) ([]library.Collection, error) {
	return []library.Collection{{ID: 1, Name: "Inbox", Type: "folder"}}, nil
}

func (f *fakeLibrary) Shortcuts(context.Context) ([]library.RemoteShortcut, error) {
	return f.shortcuts, f.shortcutsErr
}

func (f *fakeLibrary) Proxy(_ context.Context, _, _ string, _ []byte) (library.ProxyResult, error) {
	return library.ProxyResult{StatusCode: 200}, nil
}

func newTestDispatcher(t *testing.T, cfg *config.Config, lib Library, sender Sender, backends ...stream.Backend) *Dispatcher {
	t.Helper()
	if lib == nil {
		lib = &fakeLibrary{}
	}
	d, err := New(context.Background(), config.NewManager(cfg), lib, sender, backends, logging.Nop(), nil)
	require.NoError(t, err)
	return d
}

func processCommand() Command {
	return Command{
		Type:        CmdProcess,
		TaskID:      "task-1",
		Title:       "Article",
		Content:     "body text",
		Instruction: "Summarize this.",
		SkipPreview: true,
	}
}

func TestProcessStreamsToTab(t *testing.T) {
	backend := &fakeBackend{kind: stream.KindProvider}
	sender := &fakeSender{}
	d := newTestDispatcher(t, nil, nil, sender, backend)

	reply, err := d.Handle(context.Background(), "tab-1", processCommand())
	require.NoError(t, err)
	accepted, ok := reply.(ProcessAccepted)
	require.True(t, ok)
	assert.Equal(t, "task-1", accepted.TaskID)
	assert.True(t, d.Registry().Contains("task-1"))

	backend.emitChunk("Hello", "Hello")
	backend.emitChunk(" world", "Hello world")
	backend.emitEnd("Hello world")

	started := sender.messages(MsgProcessingStarted)
	require.Len(t, started, 1)
	chunks := sender.messages(MsgChunk)
	require.Len(t, chunks, 2)
	assert.Equal(t, " world", chunks[1].Data)
	assert.Equal(t, "Hello world", chunks[1].Accumulated)
	results := sender.messages(MsgResult)
	require.Len(t, results, 1)
	assert.Equal(t, "Hello world", results[0].Content)

	assert.False(t, d.Registry().Contains("task-1"))
	assert.Equal(t, 0, d.Tracker().TaskCount("tab-1"))
}

func TestProcessThenImmediateCancel(t *testing.T) {
	backend := &fakeBackend{kind: stream.KindProvider}
	sender := &fakeSender{}
	d := newTestDispatcher(t, nil, nil, sender, backend)

	_, err := d.Handle(context.Background(), "tab-1", processCommand())
	require.NoError(t, err)

	reply, err := d.Handle(context.Background(), "tab-1", Command{Type: CmdCancel, TaskID: "task-1"})
	require.NoError(t, err)
	assert.Equal(t, CancelResult{Cancelled: true}, reply)
	assert.True(t, backend.wasCancelled())

	// Whatever was in flight when the cancel landed must be suppressed.
	backend.emitChunk("late", "late")
	backend.emitEnd("late")

	assert.Empty(t, sender.messages(MsgChunk))
	assert.Empty(t, sender.messages(MsgResult))
	assert.False(t, d.Registry().Contains("task-1"))
}

func TestCancelUnknownTask(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDispatcher(t, nil, nil, sender, &fakeBackend{kind: stream.KindProvider})

	reply, err := d.Handle(context.Background(), "tab-1", Command{Type: CmdCancel, TaskID: "nope"})
	require.NoError(t, err)
	assert.Equal(t, CancelResult{Cancelled: false}, reply)
}

func TestProcessConfigurationErrorNotRegistered(t *testing.T) {
	backend := &fakeBackend{
		kind:     stream.KindProvider,
		startErr: huntlyerrors.NewConfigurationError("provider", "no enabled provider"),
	}
	sender := &fakeSender{}
	d := newTestDispatcher(t, nil, nil, sender, backend)

	_, err := d.Handle(context.Background(), "tab-1", processCommand())
	require.Error(t, err)
	assert.True(t, huntlyerrors.IsConfiguration(err))

	errs := sender.messages(MsgProcessingError)
	require.Len(t, errs, 1)
	assert.Equal(t, "task-1", errs[0].TaskID)
	assert.Equal(t, 0, d.Registry().Len())
}

func TestProcessStreamError(t *testing.T) {
	backend := &fakeBackend{kind: stream.KindProvider}
	sender := &fakeSender{}
	d := newTestDispatcher(t, nil, nil, sender, backend)

	_, err := d.Handle(context.Background(), "tab-1", processCommand())
	require.NoError(t, err)
	backend.emitError(errors.New("upstream hung up"))

	errs := sender.messages(MsgProcessingError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "hung up")
	assert.False(t, d.Registry().Contains("task-1"))
}

func TestDefaultBackendSelection(t *testing.T) {
	provider := &fakeBackend{kind: stream.KindProvider}
	server := &fakeBackend{kind: stream.KindServer}
	sender := &fakeSender{}

	// No managed server configured: direct provider path.
	d := newTestDispatcher(t, nil, nil, sender, provider, server)
	cmd := processCommand()
	_, err := d.Handle(context.Background(), "tab-1", cmd)
	require.NoError(t, err)
	assert.Equal(t, "task-1", provider.lastRequest().TaskID)
	assert.Empty(t, server.lastRequest().TaskID)

	// With a server endpoint the managed path wins by default.
	provider2 := &fakeBackend{kind: stream.KindProvider}
	server2 := &fakeBackend{kind: stream.KindServer}
	cfg := &config.Config{Server: config.Server{BaseURL: "https://huntly.example"}}
	d2 := newTestDispatcher(t, cfg, nil, &fakeSender{}, provider2, server2)
	cmd.TaskID = "task-2"
	_, err = d2.Handle(context.Background(), "tab-1", cmd)
	require.NoError(t, err)
	assert.Equal(t, "task-2", server2.lastRequest().TaskID)
	assert.Empty(t, provider2.lastRequest().TaskID)
}

func TestProcessResolvesShortcutInstruction(t *testing.T) {
	backend := &fakeBackend{kind: stream.KindProvider}
	d := newTestDispatcher(t, nil, nil, &fakeSender{}, backend)

	cmd := processCommand()
	cmd.Instruction = ""
	cmd.ShortcutID = "summarize"
	_, err := d.Handle(context.Background(), "tab-1", cmd)
	require.NoError(t, err)
	assert.NotEmpty(t, backend.lastRequest().Instruction)

	cmd.TaskID = "task-2"
	cmd.ShortcutID = "no-such-shortcut"
	_, err = d.Handle(context.Background(), "tab-1", cmd)
	require.Error(t, err)
}

func TestPreviewHandshakePrecedesStream(t *testing.T) {
	backend := &fakeBackend{kind: stream.KindProvider}
	sender := &fakeSender{}
	d := newTestDispatcher(t, nil, nil, sender, backend)

	// At ack time the stream must not have started yet.
	sender.onAck = func() {
		assert.Empty(t, backend.lastRequest().TaskID)
	}

	cmd := processCommand()
	cmd.SkipPreview = false
	cmd.URL = "https://a.example/article"
	_, err := d.Handle(context.Background(), "tab-1", cmd)
	require.NoError(t, err)

	assert.Equal(t, 1, sender.previewCount())
	assert.Equal(t, "task-1", backend.lastRequest().TaskID)
}

func TestRelayFailureCancelsTask(t *testing.T) {
	backend := &fakeBackend{kind: stream.KindProvider}
	sender := &fakeSender{}
	sender.sendErr = func(msg Message) error {
		if msg.Type == MsgChunk {
			return errors.New("tab gone")
		}
		return nil
	}
	d := newTestDispatcher(t, nil, nil, sender, backend)

	_, err := d.Handle(context.Background(), "tab-1", processCommand())
	require.NoError(t, err)
	backend.emitChunk("lost", "lost")

	require.Eventually(t, backend.wasCancelled, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return !d.Registry().Contains("task-1")
	}, time.Second, 5*time.Millisecond)
}

func TestCompletionBeforeRegistrationLeavesNoEntry(t *testing.T) {
	backend := &fakeBackend{kind: stream.KindProvider, endInStart: true}
	sender := &fakeSender{}
	d := newTestDispatcher(t, nil, nil, sender, backend)

	_, err := d.Handle(context.Background(), "tab-1", processCommand())
	require.NoError(t, err)
	assert.Equal(t, 0, d.Registry().Len())
	assert.Equal(t, 0, d.Tracker().TaskCount("tab-1"))
	require.Len(t, sender.messages(MsgResult), 1)
}

func TestTabClosedCancelsAllTasks(t *testing.T) {
	backend := &fakeBackend{kind: stream.KindProvider}
	sender := &fakeSender{}
	d := newTestDispatcher(t, nil, nil, sender, backend)

	for _, id := range []string{"t1", "t2", "t3"} {
		cmd := processCommand()
		cmd.TaskID = id
		_, err := d.Handle(context.Background(), "tab-1", cmd)
		require.NoError(t, err)
	}
	require.Equal(t, 3, d.Registry().Len())

	d.TabClosed("tab-1")
	assert.Equal(t, 0, d.Registry().Len())
	assert.Equal(t, 0, d.Tracker().TaskCount("tab-1"))
}

func TestSaveAndOpenStepError(t *testing.T) {
	lib := &fakeLibrary{saveID: 7, placementErr: errors.New("placement unavailable")}
	d := newTestDispatcher(t, nil, lib, &fakeSender{}, &fakeBackend{kind: stream.KindProvider})

	cmd := Command{
		Type: CmdSaveAndOpen,
		Item: &library.SaveRequest{URL: "https://a.example", Title: "A"},
	}
	_, err := d.Handle(context.Background(), "tab-1", cmd)
	require.Error(t, err)
	var step *StepError
	require.ErrorAs(t, err, &step)
	assert.Equal(t, "placement", step.Step)
}

func TestSaveAndOpenMergesResult(t *testing.T) {
	lib := &fakeLibrary{saveID: 42}
	d := newTestDispatcher(t, nil, lib, &fakeSender{}, &fakeBackend{kind: stream.KindProvider})

	cmd := Command{
		Type: CmdSaveAndOpen,
		Item: &library.SaveRequest{URL: "https://a.example", Title: "A"},
	}
	reply, err := d.Handle(context.Background(), "tab-1", cmd)
	require.NoError(t, err)
	result, ok := reply.(SaveAndOpenResult)
	require.True(t, ok)
	assert.Equal(t, int64(42), result.Page.ID)
	assert.Equal(t, int64(42), result.Placement.PageID)
	require.Len(t, result.Collections, 1)
}

func TestToolbarDataDefaultModel(t *testing.T) {
	cfg := &config.Config{
		Providers: []config.Provider{
			{Name: "empty", Enabled: true, Default: true},
			{Name: "openai", Enabled: true, Models: []string{"gpt-4o-mini", "gpt-4o"}},
			{Name: "disabled", Models: []string{"hidden"}},
		},
	}
	d := newTestDispatcher(t, cfg, nil, &fakeSender{}, &fakeBackend{kind: stream.KindProvider})

	reply, err := d.Handle(context.Background(), "tab-1", Command{Type: CmdToolbarData})
	require.NoError(t, err)
	data, ok := reply.(*ToolbarData)
	require.True(t, ok)

	require.Len(t, data.Models, 2)
	require.NotNil(t, data.DefaultModel)
	assert.Equal(t, ModelOption{Provider: "openai", Model: "gpt-4o-mini"}, *data.DefaultModel)
	assert.NotEmpty(t, data.Shortcuts)
	assert.False(t, data.ServerAvailable)
}

func TestToolbarDataRemoteCatalogBestEffort(t *testing.T) {
	cfg := &config.Config{
		Server: config.Server{BaseURL: "https://huntly.example", RemoteShortcuts: true},
	}
	lib := &fakeLibrary{shortcutsErr: errors.New("service down")}
	d := newTestDispatcher(t, cfg, lib, &fakeSender{}, &fakeBackend{kind: stream.KindProvider})

	reply, err := d.Handle(context.Background(), "tab-1", Command{Type: CmdToolbarData})
	require.NoError(t, err)
	data := reply.(*ToolbarData)
	assert.Empty(t, data.RemoteShortcuts)
	assert.NotEmpty(t, data.Shortcuts)

	lib.shortcutsErr = nil
	lib.shortcuts = []library.RemoteShortcut{{ID: 3, Name: "Refine", Instruction: "Refine the text."}}
	reply, err = d.Handle(context.Background(), "tab-1", Command{Type: CmdToolbarData})
	require.NoError(t, err)
	data = reply.(*ToolbarData)
	require.Len(t, data.RemoteShortcuts, 1)
	assert.Equal(t, "remote-3", data.RemoteShortcuts[0].ID)
}

func TestPresenceCheckSendsBadgeState(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDispatcher(t, nil, &fakeLibrary{}, sender, &fakeBackend{kind: stream.KindProvider})

	reply, err := d.Handle(context.Background(), "tab-1", Command{Type: CmdPresenceCheck, URL: "https://a.example"})
	require.NoError(t, err)
	assert.Equal(t, PresenceResult{State: "not_saved"}, reply)

	badges := sender.messages(MsgBadgeState)
	require.Len(t, badges, 1)
	assert.Equal(t, "not_saved", badges[0].State)
}

func TestUnknownCommandRejected(t *testing.T) {
	d := newTestDispatcher(t, nil, nil, &fakeSender{}, &fakeBackend{kind: stream.KindProvider})
	_, err := d.Handle(context.Background(), "tab-1", Command{Type: "bogus"})
	require.Error(t, err)
}

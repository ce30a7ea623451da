package bridge

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var errAckTimeout = errors.New("tab did not acknowledge in time")

// tabConn is one connected tab. Writes are serialized through writeMu;
// gorilla/websocket allows only one concurrent writer.
type tabConn struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan error
	nextID    atomic.Uint64
}

func newTabConn(id string, conn *websocket.Conn) *tabConn {
	return &tabConn{
		id:      id,
		conn:    conn,
		pending: make(map[string]chan error),
	}
}

func (t *tabConn) writeJSON(v any) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteJSON(v)
}

// request writes a frame that the tab must acknowledge and blocks until the
// ack arrives, the context expires, or the timeout elapses.
func (t *tabConn) request(ctx context.Context, msg requestFrame, timeout time.Duration) error {
	id := strconv.FormatUint(t.nextID.Add(1), 10)
	msg.ID = id
	ch := make(chan error, 1)

	t.pendingMu.Lock()
	t.pending[id] = ch
	t.pendingMu.Unlock()

	if err := t.writeJSON(msg); err != nil {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-waitCtx.Done():
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return errAckTimeout
		}
		return waitCtx.Err()
	case err := <-ch:
		return err
	}
}

// resolveAck completes the pending request with the given id, if any.
func (t *tabConn) resolveAck(id string, err error) {
	t.pendingMu.Lock()
	ch := t.pending[id]
	delete(t.pending, id)
	t.pendingMu.Unlock()
	if ch != nil {
		ch <- err
	}
}

// failPending aborts every outstanding request, used when the tab goes away.
func (t *tabConn) failPending(err error) {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	for id, ch := range t.pending {
		delete(t.pending, id)
		if ch != nil {
			ch <- err
		}
	}
}

func (t *tabConn) close() {
	_ = t.conn.Close()
}

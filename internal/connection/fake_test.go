package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/UillB/appointmets-bot-sub003/internal/pkg/scheduler/schedulertest"
	"github.com/UillB/appointmets-bot-sub003/internal/pkg/worker"
)

var errClosedConn = errors.New("use of closed network connection")

type readResult struct {
	data []byte
	err  error
}

type fakeConn struct {
	reads  chan readResult
	closed chan struct{}
	once   sync.Once

	mu        sync.Mutex
	writes    [][]byte
	closeCode int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		reads:  make(chan readResult, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case r := <-c.reads:
		return r.data, r.err
	case <-c.closed:
		return nil, errClosedConn
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close(code int, _ string) error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

func (c *fakeConn) push(data string) { c.reads <- readResult{data: []byte(data)} }

func (c *fakeConn) fail(err error) { c.reads <- readResult{err: err} }

func (c *fakeConn) peerClose(code int) { c.fail(&websocket.CloseError{Code: code}) }

func (c *fakeConn) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

func (c *fakeConn) CloseCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

type fakeDialer struct {
	mu    sync.Mutex
	uris  []string
	conns []*fakeConn
	errs  []error
	gate  chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, uri string) (Conn, error) {
	d.mu.Lock()
	gate := d.gate
	d.uris = append(d.uris, uri)
	var err error
	if len(d.errs) > 0 {
		err, d.errs = d.errs[0], d.errs[1:]
	}
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	c := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) failNext(err error) {
	d.mu.Lock()
	d.errs = append(d.errs, err)
	d.mu.Unlock()
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.uris)
}

func (d *fakeDialer) LastURI() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.uris) == 0 {
		return ""
	}
	return d.uris[len(d.uris)-1]
}

func (d *fakeDialer) Last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

type transitions struct {
	mu   sync.Mutex
	seen []State
}

func (tr *transitions) record(_, to State) {
	tr.mu.Lock()
	tr.seen = append(tr.seen, to)
	tr.mu.Unlock()
}

func (tr *transitions) All() []State {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]State(nil), tr.seen...)
}

type harness struct {
	m      *Manager
	dialer *fakeDialer
	clock  *schedulertest.Manual
	trans  *transitions
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	pool, err := worker.NewPool(context.Background(), "connection-test", 4)
	require.NoError(t, err)
	t.Cleanup(pool.Shutdown)

	h := &harness{
		dialer: &fakeDialer{},
		clock:  schedulertest.NewManual(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		trans:  &transitions{},
	}
	h.m = NewManager(DefaultConfig(), h.dialer, h.clock, pool)
	h.m.OnStateChange(h.trans.record)
	t.Cleanup(h.m.Close)
	return h
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		seen := h.trans.All()
		return h.m.State() == want && len(seen) > 0 && seen[len(seen)-1] == want
	}, time.Second, 5*time.Millisecond, "state never became %s", want)
}

func (h *harness) connect(t *testing.T) *fakeConn {
	t.Helper()
	h.m.SetCredentials(&Credentials{URL: "ws://push.test/ws", Token: "tok-1"})
	h.waitState(t, StateConnected)
	return h.dialer.Last()
}

func (c *fakeConn) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-c.closed:
	case <-time.After(time.Second):
		t.Fatal("dropped socket was never closed by the manager")
	}
}

package syncclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/cuetimer/go/internal/countdown"
	"github.com/mcdev12/cuetimer/go/internal/gateway"
)

type recorder struct {
	states    chan State
	snapshots chan countdown.Snapshot
}

func newRecorder(c *Client) *recorder {
	r := &recorder{
		states:    make(chan State, 16),
		snapshots: make(chan countdown.Snapshot, 16),
	}
	c.OnState(func(s State) { r.states <- s })
	c.OnSnapshot(func(s countdown.Snapshot) { r.snapshots <- s })
	return r
}

func (r *recorder) waitState(t *testing.T, want State) {
	t.Helper()
	for {
		select {
		case s := <-r.states:
			if s == want {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func (r *recorder) nextSnapshot(t *testing.T) countdown.Snapshot {
	t.Helper()
	select {
	case s := <-r.snapshots:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return countdown.Snapshot{}
	}
}

func newGateway(t *testing.T) (*gateway.Service, string) {
	t.Helper()
	svc := gateway.NewService(gateway.DefaultConfig(), clockwork.NewFakeClock(), nil)
	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	server := httptest.NewServer(svc.Handler(mux))
	t.Cleanup(server.Close)
	return svc, "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func TestClient_ReceivesSnapshotsAndSendsCommands(t *testing.T) {
	_, wsURL := newGateway(t)

	cfg := DefaultConfig()
	cfg.URL = wsURL
	cfg.RoomID = "stage"
	cfg.Role = "control"
	client := NewClient(cfg, nil, clockwork.NewFakeClock())
	rec := newRecorder(client)
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.Start())
	rec.waitState(t, StateConnected)

	first := rec.nextSnapshot(t)
	assert.Equal(t, "STAGE", first.RoomID)
	assert.Equal(t, countdown.StatusIdle, first.Status)

	require.NoError(t, client.Send("start", map[string]int64{"durationMs": 45000}))
	snap := rec.nextSnapshot(t)
	assert.Equal(t, countdown.StatusRunning, snap.Status)
	assert.Equal(t, int64(45000), client.Estimator().Remaining(client.clock.Now()))

	require.NoError(t, client.Join("other", "display"))
	moved := rec.nextSnapshot(t)
	assert.Equal(t, "OTHER", moved.RoomID)
	assert.Equal(t, countdown.StatusIdle, moved.Status)
}

func TestClient_ReconnectsAfterFixedDelay(t *testing.T) {
	svc, wsURL := newGateway(t)
	clock := clockwork.NewFakeClock()

	cfg := DefaultConfig()
	cfg.URL = wsURL
	cfg.RoomID = "abc"
	client := NewClient(cfg, nil, clock)
	rec := newRecorder(client)
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.Start())
	rec.waitState(t, StateConnected)
	rec.nextSnapshot(t)

	// Server drops every transport
	require.NoError(t, svc.Stop())
	rec.waitState(t, StateReconnecting)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(cfg.ReconnectDelay)
	rec.waitState(t, StateConnected)
	snap := rec.nextSnapshot(t)
	assert.Equal(t, "ABC", snap.RoomID)
}

type failingDialer struct {
	attempts atomic.Int32
}

func (d *failingDialer) DialContext(context.Context, string, http.Header) (*websocket.Conn, *http.Response, error) {
	d.attempts.Add(1)
	return nil, nil, errors.New("connection refused")
}

func TestClient_SinglePendingReconnect(t *testing.T) {
	clock := clockwork.NewFakeClock()
	dialer := &failingDialer{}
	client := NewClient(DefaultConfig(), dialer, clock)
	rec := newRecorder(client)

	require.NoError(t, client.Start())
	rec.waitState(t, StateReconnecting)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, int32(1), dialer.attempts.Load())

	// A second failure report while a timer is pending arms nothing new
	client.mu.Lock()
	client.scheduleReconnectLocked()
	client.mu.Unlock()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(time.Second)
	assert.Equal(t, int32(1), dialer.attempts.Load(), "no retry before the delay")

	clock.Advance(time.Second)
	assert.Eventually(t, func() bool { return dialer.attempts.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	require.NoError(t, client.Close())
	assert.Equal(t, StateClosed, client.State())

	clock.Advance(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), dialer.attempts.Load(), "closed clients never redial")
}

type blockingDialer struct {
	release chan struct{}
	target  string
	once    sync.Once
	dialed  chan struct{}
}

func (d *blockingDialer) DialContext(ctx context.Context, _ string, h http.Header) (*websocket.Conn, *http.Response, error) {
	d.once.Do(func() { close(d.dialed) })
	<-d.release
	return websocket.DefaultDialer.DialContext(ctx, d.target, h)
}

func TestClient_CloseDiscardsInFlightDial(t *testing.T) {
	svc, wsURL := newGateway(t)
	dialer := &blockingDialer{
		release: make(chan struct{}),
		target:  wsURL + "?room=abc",
		dialed:  make(chan struct{}),
	}
	client := NewClient(DefaultConfig(), dialer, clockwork.NewFakeClock())
	require.NoError(t, client.Start())

	<-dialer.dialed
	require.NoError(t, client.Close())
	close(dialer.release)

	// The late transport is closed instead of adopted
	assert.Eventually(t, func() bool {
		return svc.Stats().TotalConnections == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateClosed, client.State())
	assert.ErrorIs(t, client.Send("pause", nil), ErrClosed)
}

func TestClient_JoinKeepsTransport(t *testing.T) {
	svc, wsURL := newGateway(t)

	cfg := DefaultConfig()
	cfg.URL = wsURL
	cfg.RoomID = "first"
	cfg.Role = "control"
	client := NewClient(cfg, nil, clockwork.NewFakeClock())
	rec := newRecorder(client)
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.Start())
	rec.waitState(t, StateConnected)
	assert.Equal(t, "FIRST", rec.nextSnapshot(t).RoomID)

	client.mu.Lock()
	gen, conn := client.generation, client.conn
	client.mu.Unlock()

	for _, room := range []string{"second", "third", "fourth"} {
		require.NoError(t, client.Join(room, "display"))
		assert.Equal(t, strings.ToUpper(room), rec.nextSnapshot(t).RoomID)
	}

	client.mu.Lock()
	assert.Equal(t, gen, client.generation, "join never redials")
	assert.Same(t, conn, client.conn)
	client.mu.Unlock()

	stats := svc.Stats()
	assert.Equal(t, 1, stats.TotalConnections)
	assert.Equal(t, map[string]int{"FOURTH": 1}, stats.RoomConnections)
	assert.Equal(t, 0, stats.Controllers)

	reading, ok := client.Estimator().Read(client.clock.Now())
	require.True(t, ok)
	assert.Equal(t, "FOURTH", reading.RoomID)
}

type recordingDialer struct {
	mu   sync.Mutex
	urls []string
}

func (d *recordingDialer) DialContext(_ context.Context, target string, _ http.Header) (*websocket.Conn, *http.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, target)
	return nil, nil, errors.New("connection refused")
}

func (d *recordingDialer) dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

func TestClient_JoinWhileReconnectingRetargetsNextDial(t *testing.T) {
	clock := clockwork.NewFakeClock()
	dialer := &recordingDialer{}
	cfg := DefaultConfig()
	cfg.RoomID = "old"
	client := NewClient(cfg, dialer, clock)
	rec := newRecorder(client)
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.Start())
	rec.waitState(t, StateReconnecting)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	require.NoError(t, client.Join("mid", "display"))
	require.NoError(t, client.Join("new", "control"))

	client.mu.Lock()
	pending := client.reconnectTimer
	client.mu.Unlock()
	require.NotNil(t, pending)

	clock.Advance(cfg.ReconnectDelay)
	assert.Eventually(t, func() bool { return len(dialer.dialed()) == 2 }, 2*time.Second, 5*time.Millisecond)

	// One timer fired, so exactly one redial
	time.Sleep(20 * time.Millisecond)
	urls := dialer.dialed()
	require.Len(t, urls, 2)

	first, err := url.Parse(urls[0])
	require.NoError(t, err)
	assert.Equal(t, "old", first.Query().Get("room"))

	next, err := url.Parse(urls[1])
	require.NoError(t, err)
	assert.Equal(t, "new", next.Query().Get("room"))
	assert.Equal(t, "control", next.Query().Get("role"))
}

func TestClient_JoinAfterCloseFails(t *testing.T) {
	client := NewClient(DefaultConfig(), &failingDialer{}, clockwork.NewFakeClock())
	require.NoError(t, client.Close())
	assert.ErrorIs(t, client.Join("abc", "display"), ErrClosed)
}

func TestClient_IgnoresSnapshotWithUnknownStatus(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"snapshot","payload":{"roomId":"ABC","status":"exploded","remainingMs":1000,"serverNow":1}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"snapshot","payload":{"roomId":"ABC","status":"paused","remainingMs":2000,"serverNow":2}}`))
		conn.ReadMessage()
	}))
	t.Cleanup(server.Close)

	cfg := DefaultConfig()
	cfg.URL = "ws" + strings.TrimPrefix(server.URL, "http")
	client := NewClient(cfg, nil, clockwork.NewFakeClock())
	rec := newRecorder(client)
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.Start())
	snap := rec.nextSnapshot(t)
	assert.Equal(t, countdown.StatusPaused, snap.Status)
	assert.Equal(t, int64(2000), client.Estimator().Remaining(client.clock.Now()))
}

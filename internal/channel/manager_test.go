package channel

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/JakeFAU/ingest-progress/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// streamServer accepts WebSocket connections on /ws and hands each one to the
// test. Requests are rejected while failing is set.
type streamServer struct {
	*httptest.Server
	conns    chan *websocket.Conn
	attempts atomic.Int64
	failing  atomic.Bool
}

func newStreamServer(t *testing.T) *streamServer {
	t.Helper()
	s := &streamServer{conns: make(chan *websocket.Conn, 8)}
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		s.attempts.Add(1)
		if s.failing.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- conn
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				_ = conn.Close()
				return
			}
		}
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *streamServer) url(t *testing.T) string {
	t.Helper()
	u, err := URLFromBase(s.URL)
	require.NoError(t, err)
	return u
}

func (s *streamServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

type recorder struct {
	mu     sync.Mutex
	events []model.ProgressEvent
}

func (r *recorder) handle(evt model.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) tables() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Table)
	}
	return out
}

func sendEvent(t *testing.T, conn *websocket.Conn, table string) {
	t.Helper()
	payload := `{"job_id":"job_1","table":"` + table + `","event":"extracting","message":"m","current_rows":5,"timestamp":"2024-05-01T12:00:00Z"}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))
}

func waitForState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want }, 2*time.Second, 5*time.Millisecond,
		"state never became %s", want)
}

func TestURLFromBase(t *testing.T) {
	t.Parallel()

	cases := []struct {
		base string
		want string
		err  bool
	}{
		{base: "http://localhost:8000", want: "ws://localhost:8000/ws"},
		{base: "https://ingest.example.com", want: "wss://ingest.example.com/ws"},
		{base: "https://ingest.example.com/app/", want: "wss://ingest.example.com/app/ws"},
		{base: "http://localhost:8000?x=1#frag", want: "ws://localhost:8000/ws"},
		{base: "ftp://example.com", err: true},
		{base: "http://", err: true},
	}
	for _, tc := range cases {
		got, err := URLFromBase(tc.base)
		if tc.err {
			require.Error(t, err, tc.base)
			continue
		}
		require.NoError(t, err, tc.base)
		require.Equal(t, tc.want, got)
	}

	got, err := ResolveURL("https://ingest.example.com", "stream")
	require.NoError(t, err)
	require.Equal(t, "wss://ingest.example.com/stream", got)
}

func TestDefaultReconnectPolicyIsFixedThreeSeconds(t *testing.T) {
	t.Parallel()

	m := New(Config{URL: "ws://localhost/ws"}, nil)
	for i := 0; i < 5; i++ {
		require.Equal(t, 3*time.Second, m.policy.NextBackOff())
	}
	require.Equal(t, StateDisconnected, m.State())
}

func TestManagerDeliversEventsInOrder(t *testing.T) {
	srv := newStreamServer(t)
	m := New(Config{URL: srv.url(t), ReconnectDelay: time.Hour}, nil)
	rec := &recorder{}
	m.Subscribe(rec.handle)

	m.Connect()
	conn := srv.accept(t)
	waitForState(t, m, StateConnected)

	sendEvent(t, conn, "a")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"table":"x","event":"extracting"}`)))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("raw")))
	sendEvent(t, conn, "b")
	sendEvent(t, conn, "c")

	require.Eventually(t, func() bool { return len(rec.tables()) == 3 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"a", "b", "c"}, rec.tables())

	m.Disconnect()
	require.Equal(t, StateDisconnected, m.State())
}

func TestManagerReconnectsAfterClose(t *testing.T) {
	srv := newStreamServer(t)
	delay := 50 * time.Millisecond

	var mu sync.Mutex
	var transitions []State
	m := New(Config{
		URL:            srv.url(t),
		ReconnectDelay: delay,
		OnStateChange: func(_, to State) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, to)
		},
	}, nil)
	rec := &recorder{}
	m.Subscribe(rec.handle)
	m.Connect()

	first := srv.accept(t)
	waitForState(t, m, StateConnected)
	sendEvent(t, first, "before")
	require.Eventually(t, func() bool { return len(rec.tables()) == 1 }, 2*time.Second, 5*time.Millisecond)

	closedAt := time.Now()
	require.NoError(t, first.Close())

	second := srv.accept(t)
	require.GreaterOrEqual(t, time.Since(closedAt), delay)
	waitForState(t, m, StateConnected)
	sendEvent(t, second, "after")
	require.Eventually(t, func() bool { return len(rec.tables()) == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"before", "after"}, rec.tables())

	m.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []State{
		StateConnecting,
		StateConnected,
		StateReconnectScheduled,
		StateConnecting,
		StateConnected,
		StateDisconnected,
	}, transitions)
}

func TestManagerRetriesFailedDials(t *testing.T) {
	srv := newStreamServer(t)
	srv.failing.Store(true)

	m := New(Config{URL: srv.url(t), ReconnectDelay: 10 * time.Millisecond}, nil)
	m.Connect()

	require.Eventually(t, func() bool { return srv.attempts.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	srv.failing.Store(false)
	srv.accept(t)
	waitForState(t, m, StateConnected)

	m.Disconnect()
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	srv := newStreamServer(t)
	srv.failing.Store(true)

	delay := 50 * time.Millisecond
	m := New(Config{URL: srv.url(t), ReconnectDelay: delay}, nil)
	m.Connect()
	waitForState(t, m, StateReconnectScheduled)

	m.Disconnect()
	require.Equal(t, StateDisconnected, m.State())
	attempts := srv.attempts.Load()

	time.Sleep(4 * delay)
	require.Equal(t, attempts, srv.attempts.Load())
	require.Equal(t, StateDisconnected, m.State())
}

func TestConnectIsIdempotent(t *testing.T) {
	srv := newStreamServer(t)
	m := New(Config{URL: srv.url(t), ReconnectDelay: time.Hour}, nil)

	m.Connect()
	m.Connect()
	srv.accept(t)
	waitForState(t, m, StateConnected)
	m.Connect()

	select {
	case <-srv.conns:
		t.Fatal("a second physical connection was opened")
	case <-time.After(100 * time.Millisecond):
	}
	require.Equal(t, int64(1), srv.attempts.Load())

	m.Disconnect()
	m.Disconnect()

	m.Connect()
	srv.accept(t)
	waitForState(t, m, StateConnected)
	m.Disconnect()
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	srv := newStreamServer(t)
	m := New(Config{URL: srv.url(t), ReconnectDelay: time.Hour}, nil)
	kept, removed := &recorder{}, &recorder{}
	m.Subscribe(kept.handle)
	unsubscribe := m.Subscribe(removed.handle)
	unsubscribe()
	unsubscribe()

	m.Connect()
	conn := srv.accept(t)
	waitForState(t, m, StateConnected)
	sendEvent(t, conn, "a")

	require.Eventually(t, func() bool { return len(kept.tables()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Empty(t, removed.tables())
	m.Disconnect()
}

func TestStopPolicyLeavesManagerDisconnected(t *testing.T) {
	srv := newStreamServer(t)
	srv.failing.Store(true)

	m := New(Config{URL: srv.url(t), Backoff: &backoff.StopBackOff{}}, nil)
	m.Connect()
	require.Eventually(t, func() bool { return srv.attempts.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	waitForState(t, m, StateDisconnected)
	m.Disconnect()
}

func TestStateNames(t *testing.T) {
	t.Parallel()

	require.Equal(t, "reconnect_scheduled", StateReconnectScheduled.String())
	require.True(t, strings.HasPrefix(State(42).String(), "state("))
	text, err := StateConnected.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "connected", string(text))
}

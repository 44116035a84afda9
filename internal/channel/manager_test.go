package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roomlink/roomlink/internal/proto"
)

// fakeConn is an in-memory Conn. Inbound frames are fed through the inbound
// channel; Close unblocks ReadMessage. Like gorilla's conn it tolerates at
// most one writer at a time: overlapping WriteJSON calls set overlapped.
type fakeConn struct {
	mu        sync.Mutex
	written   []*proto.Frame
	failNext  int // number of WriteJSON calls to fail before succeeding
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	writeDelay time.Duration // widens the overlap window in concurrency tests
	writers    int32
	overlapped int32
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) WriteJSON(v any) error {
	if atomic.AddInt32(&c.writers, 1) > 1 {
		atomic.StoreInt32(&c.overlapped, 1)
	}
	if c.writeDelay > 0 {
		time.Sleep(c.writeDelay)
	}
	defer atomic.AddInt32(&c.writers, -1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext > 0 {
		c.failNext--
		return errors.New("write buffer not ready")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var f proto.Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	c.written = append(c.written, &f)
	return nil
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.inbound:
		return 1, data, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) feed(t *testing.T, f *proto.Frame) {
	t.Helper()
	b, err := json.Marshal(f)
	if err != nil {
		t.Fatal(err)
	}
	c.inbound <- b
}

func (c *fakeConn) frames() []*proto.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*proto.Frame, len(c.written))
	copy(out, c.written)
	return out
}

func (c *fakeConn) countType(typ string) int {
	n := 0
	for _, f := range c.frames() {
		if f.Type == typ {
			n++
		}
	}
	return n
}

// testManager returns a manager whose dialer hands out conns from the queue.
func testManager(t *testing.T, conns ...*fakeConn) (*Manager, *int) {
	t.Helper()
	dials := 0
	i := 0
	m := New(
		func(roomID string) string { return "ws://test/ws/chat/" + roomID + "/" },
		WithDialer(func(ctx context.Context, url string) (Conn, error) {
			dials++
			if i >= len(conns) {
				return nil, fmt.Errorf("no conn for dial %d", dials)
			}
			c := conns[i]
			i++
			return c, nil
		}),
		WithJoinRetry(5*time.Millisecond),
		WithWriteTimeout(time.Second),
	)
	t.Cleanup(m.Close)
	return m, &dials
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestConnectSendsSingleJoin(t *testing.T) {
	conn := newFakeConn()
	m, _ := testManager(t, conn)

	m.Connect(context.Background(), "room-1")

	waitFor(t, "join frame", func() bool { return conn.countType(proto.TypeJoinRoom) == 1 })
	// Give the retry ticker a few more periods: no duplicate join may appear.
	time.Sleep(30 * time.Millisecond)
	if got := conn.countType(proto.TypeJoinRoom); got != 1 {
		t.Errorf("join frames = %d, want exactly 1", got)
	}
}

func TestJoinRetriesUntilWriteSucceeds(t *testing.T) {
	conn := newFakeConn()
	conn.failNext = 3
	m, _ := testManager(t, conn)

	m.Connect(context.Background(), "room-1")

	waitFor(t, "join after retries", func() bool { return conn.countType(proto.TypeJoinRoom) == 1 })
}

func TestConnectSameRoomIsNoOp(t *testing.T) {
	conn := newFakeConn()
	m, dials := testManager(t, conn)

	m.Connect(context.Background(), "room-1")
	waitFor(t, "open", func() bool { return m.State() == StateOpen })
	m.Connect(context.Background(), "room-1")

	time.Sleep(20 * time.Millisecond)
	if *dials != 1 {
		t.Errorf("dials = %d, want 1 (second connect must be a no-op)", *dials)
	}
}

func TestConnectNewRoomSupersedesWithLeave(t *testing.T) {
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	m, dials := testManager(t, conn1, conn2)

	m.Connect(context.Background(), "room-1")
	waitFor(t, "room-1 join", func() bool { return conn1.countType(proto.TypeJoinRoom) == 1 })

	m.Connect(context.Background(), "room-2")
	waitFor(t, "room-2 join", func() bool { return conn2.countType(proto.TypeJoinRoom) == 1 })

	if got := conn1.countType(proto.TypeLeaveRoom); got != 1 {
		t.Errorf("leave frames on old session = %d, want 1", got)
	}
	if *dials != 2 {
		t.Errorf("dials = %d, want 2", *dials)
	}
	if room, ok := m.ActiveRoom(); !ok || room != "room-2" {
		t.Errorf("active room = %q, want room-2", room)
	}
}

func TestSendBeforeOpenReturnsFalse(t *testing.T) {
	m, _ := testManager(t)
	if m.Send(proto.NewChat("room-1", "hi", "c1", "")) {
		t.Error("send succeeded with no session")
	}
}

func TestSendOnOpenSession(t *testing.T) {
	conn := newFakeConn()
	m, _ := testManager(t, conn)
	m.Connect(context.Background(), "room-1")
	waitFor(t, "open", func() bool { return m.State() == StateOpen })

	if !m.Send(proto.NewChat("room-1", "hello", "c1", "")) {
		t.Fatal("send failed on open session")
	}
	if got := conn.countType(proto.TypeChatMessage); got != 1 {
		t.Errorf("chat frames = %d, want 1", got)
	}
}

func TestConcurrentSendersSerializeWrites(t *testing.T) {
	conn := newFakeConn()
	conn.writeDelay = 200 * time.Microsecond
	conn.failNext = 10 // keep the join-retry loop writing alongside the senders
	m, _ := testManager(t, conn)
	m.Connect(context.Background(), "room-1")
	waitFor(t, "open", func() bool { return m.State() == StateOpen })

	// Send runs from independent goroutines in production (the repl, ICE
	// candidate callbacks), racing the join loop and the supersession leave.
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				m.Send(proto.NewChat("room-1", fmt.Sprintf("m-%d-%d", g, i), fmt.Sprintf("c-%d-%d", g, i), ""))
			}
		}(g)
	}
	wg.Wait()
	m.Disconnect() // the leave frame takes the same write path

	if atomic.LoadInt32(&conn.overlapped) != 0 {
		t.Fatal("overlapping WriteJSON calls on a single connection")
	}
}

func TestInboundFramesDispatchedInOrder(t *testing.T) {
	conn := newFakeConn()
	m, _ := testManager(t, conn)

	var mu sync.Mutex
	var got []string
	m.OnFrame(func(f *proto.Frame) {
		mu.Lock()
		got = append(got, f.Message)
		mu.Unlock()
	})

	m.Connect(context.Background(), "room-1")
	waitFor(t, "open", func() bool { return m.State() == StateOpen })

	for i := 0; i < 5; i++ {
		conn.feed(t, &proto.Frame{Type: proto.TypeUserMessage, Message: fmt.Sprintf("msg-%d", i)})
	}

	waitFor(t, "all frames", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 5
	})
	mu.Lock()
	defer mu.Unlock()
	for i, msg := range got {
		if want := fmt.Sprintf("msg-%d", i); msg != want {
			t.Errorf("got[%d] = %s, want %s", i, msg, want)
		}
	}
}

func TestUnexpectedCloseSurfacesWithoutReconnect(t *testing.T) {
	conn := newFakeConn()
	m, dials := testManager(t, conn)
	m.Connect(context.Background(), "room-1")
	waitFor(t, "open", func() bool { return m.State() == StateOpen })

	conn.Close() // server drops us

	waitFor(t, "closed", func() bool { return m.State() == StateClosed })
	time.Sleep(30 * time.Millisecond)
	if *dials != 1 {
		t.Errorf("dials = %d, want 1 (no automatic reconnect)", *dials)
	}
}

func TestDisconnectSendsLeave(t *testing.T) {
	conn := newFakeConn()
	m, _ := testManager(t, conn)
	m.Connect(context.Background(), "room-1")
	waitFor(t, "open", func() bool { return m.State() == StateOpen })

	m.Disconnect()

	if got := conn.countType(proto.TypeLeaveRoom); got != 1 {
		t.Errorf("leave frames = %d, want 1", got)
	}
	if _, ok := m.ActiveRoom(); ok {
		t.Error("active room still set after disconnect")
	}
}

func TestSubscribeSeesLifecycle(t *testing.T) {
	conn := newFakeConn()
	m, _ := testManager(t, conn)
	ch, cancel := m.Subscribe()
	defer cancel()

	m.Connect(context.Background(), "room-1")

	var states []State
	deadline := time.After(2 * time.Second)
	for len(states) < 2 {
		select {
		case sc := <-ch:
			states = append(states, sc.State)
		case <-deadline:
			t.Fatalf("timeout, states so far: %v", states)
		}
	}
	if states[0] != StateConnecting || states[1] != StateOpen {
		t.Errorf("states = %v, want [connecting open]", states)
	}
}

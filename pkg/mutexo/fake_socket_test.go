package mutexo

import (
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LLIEPJIOK/mutexo-client/pkg/mutexo/protocol"
	"github.com/LLIEPJIOK/mutexo-client/pkg/ws"
)

type fakeHandler struct {
	id ws.HandlerID
	fn ws.Handler
}

// fakeSocket доставляет события синхронно из горутины теста.
type fakeSocket struct {
	mu       sync.Mutex
	state    ws.ReadyState
	nextID   ws.HandlerID
	handlers map[ws.SocketEvent][]fakeHandler
	started  bool
	disposed bool
	closed   chan struct{}
	sent     chan []byte
}

func newFakeSocket(state ws.ReadyState) *fakeSocket {
	return &fakeSocket{
		state:    state,
		handlers: make(map[ws.SocketEvent][]fakeHandler),
		closed:   make(chan struct{}),
		sent:     make(chan []byte, 128),
	}
}

func (f *fakeSocket) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.started = true
}

func (f *fakeSocket) Send(data []byte) error {
	f.mu.Lock()
	state := f.state
	f.mu.Unlock()

	switch state {
	case ws.StateOpen:
		f.sent <- data
		return nil
	case ws.StateConnecting:
		return ws.ErrNotReady
	default:
		return ws.ErrSocketClosed
	}
}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	if f.state >= ws.StateClosing {
		f.mu.Unlock()
		return nil
	}

	f.state = ws.StateClosed
	close(f.closed)
	f.mu.Unlock()

	f.emit(ws.Event{Type: ws.EventClose})

	return nil
}

func (f *fakeSocket) On(ev ws.SocketEvent, h ws.Handler) ws.HandlerID {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	f.handlers[ev] = append(f.handlers[ev], fakeHandler{id: f.nextID, fn: h})

	return f.nextID
}

func (f *fakeSocket) Off(ev ws.SocketEvent, id ws.HandlerID) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.handlers[ev] = slices.DeleteFunc(f.handlers[ev], func(h fakeHandler) bool { return h.id == id })
}

func (f *fakeSocket) IsReady() bool {
	return f.ReadyState() == ws.StateOpen
}

func (f *fakeSocket) IsClosed() bool {
	return f.ReadyState() >= ws.StateClosing
}

func (f *fakeSocket) ReadyState() ws.ReadyState {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.state
}

func (f *fakeSocket) Dispose() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.disposed = true
	f.handlers = make(map[ws.SocketEvent][]fakeHandler)
}

func (f *fakeSocket) isDisposed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.disposed
}

func (f *fakeSocket) emit(ev ws.Event) {
	f.mu.Lock()
	hs := slices.Clone(f.handlers[ev.Type])
	f.mu.Unlock()

	for _, h := range hs {
		h.fn(ev)
	}
}

func (f *fakeSocket) connect() {
	f.mu.Lock()
	f.state = ws.StateOpen
	f.mu.Unlock()

	f.emit(ws.Event{Type: ws.EventConnect})
}

func (f *fakeSocket) drop(err error) {
	f.mu.Lock()
	f.state = ws.StateClosed
	f.mu.Unlock()

	if err != nil {
		f.emit(ws.Event{Type: ws.EventError, Err: err})
	}

	f.emit(ws.Event{Type: ws.EventClose, Err: err})
}

func (f *fakeSocket) receive(t *testing.T, msg protocol.Message) {
	t.Helper()

	data, err := protocol.Encode(msg)
	require.NoError(t, err)

	f.emit(ws.Event{Type: ws.EventData, Data: data})
}

func (f *fakeSocket) receiveRaw(data []byte) {
	f.emit(ws.Event{Type: ws.EventData, Data: data})
}

// next возвращает следующий отправленный клиентом кадр.
func (f *fakeSocket) next(t *testing.T) protocol.Message {
	t.Helper()

	select {
	case data := <-f.sent:
		msg, err := protocol.Decode(data)
		require.NoError(t, err)

		return msg

	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for outgoing frame")
	}

	return nil
}

func (f *fakeSocket) requireNoFrame(t *testing.T) {
	t.Helper()

	select {
	case data := <-f.sent:
		msg, _ := protocol.Decode(data)
		t.Fatalf("unexpected outgoing frame %T", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

var _ ws.Socket = (*fakeSocket)(nil)

package mutexo

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LLIEPJIOK/mutexo-client/pkg/mutexo/protocol"
)

func newTestDispatcher() *Dispatcher {
	return NewDispatcher(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDispatcher_EmitWithoutListeners(t *testing.T) {
	d := newTestDispatcher()

	for _, k := range protocol.Kinds() {
		assert.True(t, d.Emit(k, nil), k.String())
	}

	assert.False(t, d.Emit(EventKind(10), nil))
	assert.False(t, d.Emit(EventKind(255), nil))
}

func TestDispatcher_OnceAndOn(t *testing.T) {
	d := newTestDispatcher()

	var once, persistent int

	d.Once(KindFree, func(protocol.Message) { once++ })
	d.On(KindFree, func(protocol.Message) { persistent++ })

	d.Emit(KindFree, &protocol.Free{})
	d.Emit(KindFree, &protocol.Free{})

	assert.Equal(t, 1, once)
	assert.Equal(t, 2, persistent)
	assert.Equal(t, 1, d.Len(KindFree))
}

func TestDispatcher_Order(t *testing.T) {
	d := newTestDispatcher()

	var calls []string

	d.Once(KindLock, func(protocol.Message) { calls = append(calls, "once-1") })
	d.On(KindLock, func(protocol.Message) { calls = append(calls, "on-1") })
	d.Once(KindLock, func(protocol.Message) { calls = append(calls, "once-2") })
	d.On(KindLock, func(protocol.Message) { calls = append(calls, "on-2") })

	d.Emit(KindLock, &protocol.Lock{})

	assert.Equal(t, []string{"on-1", "on-2", "once-1", "once-2"}, calls)
}

func TestDispatcher_OnceAddedDuringEmit(t *testing.T) {
	d := newTestDispatcher()

	var calls int

	var reregister Listener
	reregister = func(protocol.Message) {
		calls++
		d.Once(KindInput, reregister)
	}

	d.Once(KindInput, reregister)

	d.Emit(KindInput, &protocol.Input{})
	assert.Equal(t, 1, calls)

	d.Emit(KindInput, &protocol.Input{})
	assert.Equal(t, 2, calls)
}

func TestDispatcher_Off(t *testing.T) {
	d := newTestDispatcher()

	var calls int

	inc := func(protocol.Message) { calls++ }

	onID := d.On(KindOutput, inc)
	onceID := d.Once(KindOutput, inc)
	require.NotEqual(t, onID, onceID)

	d.Off(KindOutput, onID)
	d.Off(KindOutput, onID)
	d.Off(KindOutput, onceID)
	d.Off(KindMutexSuccess, onID)
	d.Off(EventKind(50), onID)

	d.Emit(KindOutput, &protocol.Output{})
	assert.Zero(t, calls)
	assert.Zero(t, d.Len(KindOutput))
}

func TestDispatcher_OffDuringEmit(t *testing.T) {
	d := newTestDispatcher()

	var onceID, laterID ListenerID

	var fired []string

	d.On(KindError, func(protocol.Message) {
		fired = append(fired, "first")
		d.Off(KindError, onceID)
		d.Off(KindError, laterID)
	})
	laterID = d.On(KindError, func(protocol.Message) { fired = append(fired, "later") })
	onceID = d.Once(KindError, func(protocol.Message) { fired = append(fired, "once") })

	d.Emit(KindError, &protocol.Error{})
	assert.Equal(t, []string{"first"}, fired)
	assert.Equal(t, 1, d.Len(KindError))
}

func TestDispatcher_ClearDuringEmit(t *testing.T) {
	d := newTestDispatcher()

	var calls int

	d.Once(KindFree, func(protocol.Message) {
		calls++
		d.Clear(KindFree)
	})
	d.Once(KindFree, func(protocol.Message) { calls++ })

	d.Emit(KindFree, &protocol.Free{})
	assert.Equal(t, 1, calls)
	assert.Zero(t, d.Len(KindFree))
}

func TestDispatcher_InvalidKind(t *testing.T) {
	d := newTestDispatcher()

	assert.Zero(t, d.On(EventKind(10), func(protocol.Message) {}))
	assert.Zero(t, d.Once(EventKind(10), func(protocol.Message) {}))
	assert.Zero(t, d.On(KindFree, nil))
	assert.Zero(t, d.Len(EventKind(10)))
}

func TestDispatcher_PanicIsolated(t *testing.T) {
	d := newTestDispatcher()

	var after int

	d.On(KindError, func(protocol.Message) { panic("boom") })
	d.On(KindError, func(protocol.Message) { after++ })
	d.Once(KindError, func(protocol.Message) { after++ })

	require.NotPanics(t, func() {
		d.Emit(KindError, &protocol.Error{})
	})
	assert.Equal(t, 2, after)
}

func TestDispatcher_Clear(t *testing.T) {
	d := newTestDispatcher()

	noop := func(protocol.Message) {}

	d.On(KindFree, noop)
	d.Once(KindFree, noop)
	d.On(KindLock, noop)
	d.On(KindClose, noop)

	d.Clear(KindFree)
	assert.Zero(t, d.Len(KindFree))
	assert.Equal(t, 1, d.Len(KindLock))

	d.Clear()
	for _, k := range protocol.Kinds() {
		assert.Zero(t, d.Len(k))
	}
}

func TestHandle(t *testing.T) {
	d := newTestDispatcher()

	var got []uint32

	d.On(KindMutexSuccess, Handle(func(m *protocol.MutexSuccess) {
		got = append(got, m.ID)
	}))

	d.Emit(KindMutexSuccess, &protocol.MutexSuccess{ID: 3})
	d.Emit(KindMutexSuccess, &protocol.MutexFailure{ID: 4})

	assert.Equal(t, []uint32{3}, got)
}

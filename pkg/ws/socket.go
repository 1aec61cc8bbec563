package ws

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
)

type SocketEvent uint8

const (
	EventConnect SocketEvent = iota
	EventData
	EventClose
	EventError

	eventCount
)

func (e SocketEvent) String() string {
	switch e {
	case EventConnect:
		return "connect"
	case EventData:
		return "data"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("SocketEvent(%d)", uint8(e))
	}
}

// Event - то, что получают обработчики сокета.
// Data заполнен только для EventData, Err - для EventError и аварийного EventClose.
type Event struct {
	Type SocketEvent
	Data []byte
	Err  error
}

type Handler func(Event)

type HandlerID uint64

// ReadyState повторяет четыре состояния браузерного WebSocket.
type ReadyState int32

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ReadyState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("ReadyState(%d)", int32(s))
	}
}

// Socket - единый интерфейс над разными реализациями websocket.
//
// Все события одного сокета доставляются из одной горутины чтения в том
// порядке, в котором пришли. Чтение (и установка соединения, если сокет
// создан через Dial) начинается только после Start, поэтому обработчики
// нужно зарегистрировать до него.
type Socket interface {
	Start()
	Send(data []byte) error
	Close() error
	On(ev SocketEvent, h Handler) HandlerID
	Off(ev SocketEvent, id HandlerID)
	IsReady() bool
	IsClosed() bool
	ReadyState() ReadyState
	Dispose()
}

type handlerEntry struct {
	id HandlerID
	fn Handler
}

type emitter struct {
	mu       sync.Mutex
	nextID   HandlerID
	handlers [eventCount][]handlerEntry
}

func (e *emitter) on(ev SocketEvent, fn Handler) HandlerID {
	if ev >= eventCount || fn == nil {
		return 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	e.handlers[ev] = append(e.handlers[ev], handlerEntry{id: e.nextID, fn: fn})

	return e.nextID
}

func (e *emitter) off(ev SocketEvent, id HandlerID) {
	if ev >= eventCount {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.handlers[ev] = slices.DeleteFunc(e.handlers[ev], func(h handlerEntry) bool {
		return h.id == id
	})
}

func (e *emitter) emit(ev Event) {
	if ev.Type >= eventCount {
		return
	}

	e.mu.Lock()
	snapshot := slices.Clone(e.handlers[ev.Type])
	e.mu.Unlock()

	for _, h := range snapshot {
		h.fn(ev)
	}
}

func (e *emitter) clear() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.handlers {
		e.handlers[i] = nil
	}
}

// base - общая часть обоих бэкендов: состояние, обработчики, финальное закрытие.
type base struct {
	state      atomic.Int32
	events     emitter
	finishOnce sync.Once
	logger     *slog.Logger
}

func (b *base) On(ev SocketEvent, h Handler) HandlerID {
	return b.events.on(ev, h)
}

func (b *base) Off(ev SocketEvent, id HandlerID) {
	b.events.off(ev, id)
}

func (b *base) ReadyState() ReadyState {
	return ReadyState(b.state.Load())
}

func (b *base) IsReady() bool {
	return b.ReadyState() == StateOpen
}

func (b *base) IsClosed() bool {
	return b.ReadyState() >= StateClosing
}

// Dispose снимает все обработчики. Соединение при этом не закрывается.
func (b *base) Dispose() {
	b.events.clear()
}

func (b *base) setState(s ReadyState) {
	b.state.Store(int32(s))
}

func (b *base) sendState() error {
	switch b.ReadyState() {
	case StateOpen:
		return nil
	case StateConnecting:
		return ErrNotReady
	default:
		return ErrSocketClosed
	}
}

// finish переводит сокет в StateClosed и один раз сообщает об этом.
// Ожидаемое закрытие порождает только EventClose, аварийное - EventError и EventClose.
func (b *base) finish(err error, expected bool) {
	b.finishOnce.Do(func() {
		b.setState(StateClosed)

		if err != nil && !expected {
			b.events.emit(Event{Type: EventError, Err: err})
			b.events.emit(Event{Type: EventClose, Err: err})

			return
		}

		b.events.emit(Event{Type: EventClose})
	})
}

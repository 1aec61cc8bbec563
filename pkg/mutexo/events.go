package mutexo

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/LLIEPJIOK/mutexo-client/pkg/mutexo/protocol"
)

type EventKind = protocol.EventKind

const (
	KindFree         = protocol.KindFree
	KindLock         = protocol.KindLock
	KindInput        = protocol.KindInput
	KindOutput       = protocol.KindOutput
	KindMutexSuccess = protocol.KindMutexSuccess
	KindMutexFailure = protocol.KindMutexFailure
	KindClose        = protocol.KindClose
	KindError        = protocol.KindError
	KindSubSuccess   = protocol.KindSubSuccess
	KindSubFailure   = protocol.KindSubFailure
)

// Listener вызывается из горутины чтения сокета и не должен блокироваться.
type Listener func(msg protocol.Message)

// ListenerID идентифицирует зарегистрированный обработчик; 0 - обработчик не добавлен.
type ListenerID uint64

// Handle превращает типизированный обработчик в Listener.
// Сообщения другого типа пропускаются.
func Handle[T protocol.Message](fn func(T)) Listener {
	return func(msg protocol.Message) {
		if m, ok := msg.(T); ok {
			fn(m)
		}
	}
}

type listenerEntry struct {
	id ListenerID
	fn Listener
}

type listeners struct {
	persistent []listenerEntry
	once       []listenerEntry
}

// Dispatcher рассылает сообщения по видам событий.
//
// Обработчики одного Emit вызываются синхронно в порядке регистрации:
// сначала постоянные, затем одноразовые. Набор обработчиков фиксируется
// в начале Emit: добавленные во время Emit сработают только на следующем,
// а снятые через Off или Clear до своей очереди уже не вызываются.
// Одноразовый обработчик снимается непосредственно перед вызовом.
// Паника обработчика логируется и не мешает остальным.
type Dispatcher struct {
	mu     sync.Mutex
	nextID ListenerID
	kinds  map[EventKind]*listeners
	logger *slog.Logger
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	kinds := make(map[EventKind]*listeners)
	for _, k := range protocol.Kinds() {
		kinds[k] = &listeners{}
	}

	return &Dispatcher{
		kinds:  kinds,
		logger: logger,
	}
}

func (d *Dispatcher) On(kind EventKind, fn Listener) ListenerID {
	return d.add(kind, fn, false)
}

func (d *Dispatcher) Once(kind EventKind, fn Listener) ListenerID {
	return d.add(kind, fn, true)
}

func (d *Dispatcher) add(kind EventKind, fn Listener, once bool) ListenerID {
	if fn == nil {
		return 0
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ls, ok := d.kinds[kind]
	if !ok {
		return 0
	}

	d.nextID++
	entry := listenerEntry{id: d.nextID, fn: fn}

	if once {
		ls.once = append(ls.once, entry)
	} else {
		ls.persistent = append(ls.persistent, entry)
	}

	return entry.id
}

// Off снимает обработчик id. Повторный вызов ничего не делает.
func (d *Dispatcher) Off(kind EventKind, id ListenerID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ls, ok := d.kinds[kind]
	if !ok {
		return
	}

	ls.persistent = removeListener(ls.persistent, id)
	ls.once = removeListener(ls.once, id)
}

func removeListener(entries []listenerEntry, id ListenerID) []listenerEntry {
	i := slices.IndexFunc(entries, func(e listenerEntry) bool { return e.id == id })
	if i < 0 {
		return entries
	}

	return slices.Delete(entries, i, i+1)
}

// Emit возвращает false только для неизвестного вида события.
func (d *Dispatcher) Emit(kind EventKind, msg protocol.Message) bool {
	d.mu.Lock()

	ls, ok := d.kinds[kind]
	if !ok {
		d.mu.Unlock()
		return false
	}

	persistent := slices.Clone(ls.persistent)
	once := slices.Clone(ls.once)

	d.mu.Unlock()

	for _, l := range persistent {
		if d.registered(ls, l.id, false) {
			d.invoke(kind, l.fn, msg)
		}
	}

	for _, l := range once {
		if d.registered(ls, l.id, true) {
			d.invoke(kind, l.fn, msg)
		}
	}

	return true
}

// registered проверяет, что обработчик не сняли во время Emit.
// Одноразовый обработчик при этом снимается.
func (d *Dispatcher) registered(ls *listeners, id ListenerID, once bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !once {
		return slices.ContainsFunc(ls.persistent, func(e listenerEntry) bool { return e.id == id })
	}

	n := len(ls.once)
	ls.once = removeListener(ls.once, id)

	return len(ls.once) < n
}

func (d *Dispatcher) invoke(kind EventKind, fn Listener, msg protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("listener panicked", "kind", kind.String(), "panic", r)
		}
	}()

	fn(msg)
}

// Clear снимает все обработчики перечисленных видов, а без аргументов - всех видов.
func (d *Dispatcher) Clear(kinds ...EventKind) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(kinds) == 0 {
		for _, ls := range d.kinds {
			ls.persistent = nil
			ls.once = nil
		}

		return
	}

	for _, k := range kinds {
		if ls, ok := d.kinds[k]; ok {
			ls.persistent = nil
			ls.once = nil
		}
	}
}

func (d *Dispatcher) Len(kind EventKind) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	ls, ok := d.kinds[kind]
	if !ok {
		return 0
	}

	return len(ls.persistent) + len(ls.once)
}

package protocol

import "fmt"

// EventKind - закрытое перечисление категорий сообщений, которые понимает клиент.
// Значение совпадает с индексом события в запросах подписки.
type EventKind uint8

const (
	KindFree EventKind = iota
	KindLock
	KindInput
	KindOutput
	KindMutexSuccess
	KindMutexFailure
	KindClose
	KindError
	KindSubSuccess
	KindSubFailure

	kindCount
)

var kindNames = [kindCount]string{
	KindFree:         "free",
	KindLock:         "lock",
	KindInput:        "input",
	KindOutput:       "output",
	KindMutexSuccess: "mutexSuccess",
	KindMutexFailure: "mutexFailure",
	KindClose:        "close",
	KindError:        "error",
	KindSubSuccess:   "subSuccess",
	KindSubFailure:   "subFailure",
}

func (k EventKind) Valid() bool {
	return k < kindCount
}

func (k EventKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}

	return kindNames[k]
}

// Kinds возвращает все события в порядке их индексов.
func Kinds() []EventKind {
	kinds := make([]EventKind, 0, kindCount)
	for k := range kindCount {
		kinds = append(kinds, k)
	}

	return kinds
}

func ParseEventKind(name string) (EventKind, error) {
	for k, n := range kindNames {
		if n == name {
			return EventKind(k), nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownEventName, name)
}

// KindOf сопоставляет входящее сообщение с событием.
// Клиентские запросы событий не порождают.
func KindOf(msg Message) (EventKind, bool) {
	switch msg.(type) {
	case *Free:
		return KindFree, true
	case *Lock:
		return KindLock, true
	case *Input:
		return KindInput, true
	case *Output:
		return KindOutput, true
	case *MutexSuccess:
		return KindMutexSuccess, true
	case *MutexFailure:
		return KindMutexFailure, true
	case *Close:
		return KindClose, true
	case *Error:
		return KindError, true
	case *SubSuccess:
		return KindSubSuccess, true
	case *SubFailure:
		return KindSubFailure, true
	default:
		return 0, false
	}
}

package mutexo

import (
	"errors"

	"github.com/LLIEPJIOK/mutexo-client/pkg/mutexo/protocol"
)

var (
	ErrInvalidMessage   = errors.New("invalid message")
	ErrUnknownEventName = protocol.ErrUnknownEventName
	ErrClientDestroyed  = errors.New("client destroyed")
	ErrRequestTimeout   = errors.New("request timeout")
	ErrProtocol         = errors.New("protocol error")
)

// ProtocolError - ошибка, присланная сервером. Она не привязана к запросу
// и завершает все запросы, ожидавшие ответа в момент её получения.
type ProtocolError struct {
	Code protocol.ErrorCode
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Code.String()
}

func (e *ProtocolError) Unwrap() error {
	return ErrProtocol
}

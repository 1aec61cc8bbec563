package ws

import (
	"context"
	"fmt"
	"strings"

	cws "github.com/coder/websocket"
	gws "github.com/gorilla/websocket"
)

type Backend uint8

const (
	BackendGorilla Backend = iota
	BackendCoder
)

func (b Backend) String() string {
	switch b {
	case BackendGorilla:
		return "gorilla"
	case BackendCoder:
		return "coder"
	default:
		return fmt.Sprintf("Backend(%d)", uint8(b))
	}
}

func ParseBackend(name string) (Backend, error) {
	switch strings.ToLower(name) {
	case "", "gorilla":
		return BackendGorilla, nil
	case "coder":
		return BackendCoder, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedSocketKind, name)
	}
}

// Wrap оборачивает уже открытое соединение. Поддерживаются
// *gorilla/websocket.Conn и *coder/websocket.Conn; готовый Socket
// возвращается как есть.
func Wrap(raw any, opts ...Option) (Socket, error) {
	switch conn := raw.(type) {
	case *gws.Conn:
		if conn == nil {
			break
		}

		return NewGorillaSocket(conn, opts...), nil

	case *cws.Conn:
		if conn == nil {
			break
		}

		return NewCoderSocket(conn, opts...), nil

	case Socket:
		return conn, nil
	}

	return nil, fmt.Errorf("%w: %T", ErrUnsupportedSocketKind, raw)
}

// Dial создаёт сокет выбранного бэкенда в состоянии StateConnecting.
// Соединение устанавливается в фоне после Start; ctx ограничивает только рукопожатие.
func Dial(ctx context.Context, backend Backend, url string, opts ...Option) (Socket, error) {
	switch backend {
	case BackendGorilla:
		return DialGorilla(ctx, url, opts...), nil
	case BackendCoder:
		return DialCoder(ctx, url, opts...), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSocketKind, backend)
	}
}

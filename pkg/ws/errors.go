package ws

import "errors"

var (
	ErrUnsupportedSocketKind = errors.New("unsupported socket kind")
	ErrNotReady              = errors.New("socket is not ready")
	ErrSocketClosed          = errors.New("socket closed")
)

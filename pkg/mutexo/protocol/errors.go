package protocol

import "errors"

var (
	ErrInvalidWireMessage = errors.New("protocol: invalid wire message")
	ErrUnknownTag         = errors.New("protocol: unknown message tag")
	ErrUnknownEventName   = errors.New("protocol: unknown event name")
	ErrInvalidTxOutRef    = errors.New("protocol: invalid utxo reference")
)

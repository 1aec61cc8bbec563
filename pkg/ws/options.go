package ws

import (
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"
)

const (
	DefaultHandshakeTimeout = 45 * time.Second
	DefaultReadLimit        = 1 << 20

	writeWait = time.Second
)

type options struct {
	header           http.Header
	tlsConfig        *tls.Config
	handshakeTimeout time.Duration
	readLimit        int64
	logger           *slog.Logger
}

type Option func(*options)

func WithHeader(h http.Header) Option {
	return func(o *options) {
		o.header = h.Clone()
	}
}

func WithTLSConfig(cfg *tls.Config) Option {
	return func(o *options) {
		o.tlsConfig = cfg
	}
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) {
		o.handshakeTimeout = d
	}
}

// WithReadLimit ограничивает размер входящего сообщения в байтах.
func WithReadLimit(n int64) Option {
	return func(o *options) {
		o.readLimit = n
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func newOptions(opts []Option) options {
	o := options{
		handshakeTimeout: DefaultHandshakeTimeout,
		readLimit:        DefaultReadLimit,
		logger:           slog.Default(),
	}

	for _, opt := range opts {
		opt(&o)
	}

	if o.logger == nil {
		o.logger = slog.Default()
	}

	return o
}

package ws

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// CoderSocket - бэкенд на coder/websocket. Сообщения читаются потоково и
// полностью вычитываются до EventData; текстовые кадры отдаются как байты.
type CoderSocket struct {
	base

	url              string
	dialOpts         *websocket.DialOptions
	handshakeTimeout time.Duration
	readLimit        int64
	dialCtx          context.Context
	dialCancel       context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc

	connMu  sync.Mutex
	conn    *websocket.Conn
	started bool
}

func NewCoderSocket(conn *websocket.Conn, opts ...Option) *CoderSocket {
	o := newOptions(opts)

	s := &CoderSocket{
		readLimit: o.readLimit,
		conn:      conn,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.logger = o.logger.With("backend", BackendCoder.String())
	s.setState(StateOpen)
	s.prepare(conn)

	return s
}

func DialCoder(ctx context.Context, url string, opts ...Option) *CoderSocket {
	o := newOptions(opts)

	dialOpts := &websocket.DialOptions{
		HTTPHeader: o.header,
	}

	if o.tlsConfig != nil {
		dialOpts.HTTPClient = &http.Client{
			Transport: &http.Transport{TLSClientConfig: o.tlsConfig},
		}
	}

	s := &CoderSocket{
		url:              url,
		dialOpts:         dialOpts,
		handshakeTimeout: o.handshakeTimeout,
		readLimit:        o.readLimit,
	}
	s.dialCtx, s.dialCancel = context.WithCancel(ctx)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.logger = o.logger.With("backend", BackendCoder.String())
	s.setState(StateConnecting)

	return s
}

func (s *CoderSocket) Start() {
	s.connMu.Lock()
	if s.started {
		s.connMu.Unlock()
		return
	}

	s.started = true
	conn := s.conn
	closed := s.IsClosed()
	s.connMu.Unlock()

	switch {
	case closed:
		s.finish(nil, true)
	case conn != nil:
		go s.readLoop(conn)
	default:
		go s.dialAndRead()
	}
}

func (s *CoderSocket) dialAndRead() {
	defer s.dialCancel()

	s.logger.Info("connecting to server", "url", s.url)

	ctx := s.dialCtx
	if s.handshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.handshakeTimeout)
		defer cancel()
	}

	conn, _, err := websocket.Dial(ctx, s.url, s.dialOpts)
	if err != nil {
		closing := s.IsClosed()
		if !closing {
			s.logger.Error("dial failed", "url", s.url, "error", err)
		}

		s.cancel()
		s.finish(fmt.Errorf("dial failed: %w", err), closing)

		return
	}

	s.connMu.Lock()
	if s.IsClosed() {
		s.connMu.Unlock()
		conn.CloseNow()
		s.cancel()
		s.finish(nil, true)

		return
	}

	s.conn = conn
	s.prepare(conn)
	s.setState(StateOpen)
	s.connMu.Unlock()

	s.logger.Info("connected to server", "url", s.url)
	s.events.emit(Event{Type: EventConnect})

	s.readLoop(conn)
}

func (s *CoderSocket) prepare(conn *websocket.Conn) {
	if s.readLimit > 0 {
		conn.SetReadLimit(s.readLimit)
	}
}

func (s *CoderSocket) readLoop(conn *websocket.Conn) {
	defer s.cancel()
	defer conn.CloseNow()

	for {
		_, r, err := conn.Reader(s.ctx)
		if err != nil {
			s.readFailed(err)
			return
		}

		data, err := io.ReadAll(r)
		if err != nil {
			s.readFailed(err)
			return
		}

		s.events.emit(Event{Type: EventData, Data: data})
	}
}

func (s *CoderSocket) readFailed(err error) {
	status := websocket.CloseStatus(err)
	expected := s.IsClosed() ||
		status == websocket.StatusNormalClosure ||
		status == websocket.StatusGoingAway

	if !expected {
		s.logger.Error("read error", "error", err)
	}

	s.finish(err, expected)
}

func (s *CoderSocket) Send(data []byte) error {
	if err := s.sendState(); err != nil {
		return err
	}

	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()

	if err := conn.Write(s.ctx, websocket.MessageBinary, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	return nil
}

// Close выполняет закрывающее рукопожатие и блокируется до его завершения.
func (s *CoderSocket) Close() error {
	s.connMu.Lock()
	if s.IsClosed() {
		s.connMu.Unlock()
		return nil
	}

	s.setState(StateClosing)
	conn := s.conn
	started := s.started
	s.connMu.Unlock()

	if s.dialCancel != nil {
		s.dialCancel()
	}

	var err error

	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "client closing")
	}

	if !started {
		s.cancel()
		s.finish(nil, true)
	}

	return err
}

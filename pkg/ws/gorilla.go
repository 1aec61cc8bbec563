package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// GorillaSocket - бэкенд на gorilla/websocket. Сам отвечает pong на ping сервера.
type GorillaSocket struct {
	base

	url        string
	dialer     websocket.Dialer
	header     http.Header
	readLimit  int64
	dialCtx    context.Context
	dialCancel context.CancelFunc

	connMu  sync.Mutex
	conn    *websocket.Conn
	started bool
	writeMu sync.Mutex
}

func NewGorillaSocket(conn *websocket.Conn, opts ...Option) *GorillaSocket {
	o := newOptions(opts)

	s := &GorillaSocket{
		readLimit: o.readLimit,
		conn:      conn,
	}
	s.logger = o.logger.With("backend", BackendGorilla.String())
	s.setState(StateOpen)
	s.prepare(conn)

	return s
}

func DialGorilla(ctx context.Context, url string, opts ...Option) *GorillaSocket {
	o := newOptions(opts)

	dialCtx, cancel := context.WithCancel(ctx)

	s := &GorillaSocket{
		url: url,
		dialer: websocket.Dialer{
			Proxy:            nil,
			HandshakeTimeout: o.handshakeTimeout,
			TLSClientConfig:  o.tlsConfig,
		},
		header:     o.header,
		readLimit:  o.readLimit,
		dialCtx:    dialCtx,
		dialCancel: cancel,
	}
	s.logger = o.logger.With("backend", BackendGorilla.String())
	s.setState(StateConnecting)

	return s
}

func (s *GorillaSocket) Start() {
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

func (s *GorillaSocket) dialAndRead() {
	defer s.dialCancel()

	s.logger.Info("connecting to server", "url", s.url)

	conn, _, err := s.dialer.DialContext(s.dialCtx, s.url, s.header)
	if err != nil {
		closing := s.IsClosed()
		if !closing {
			s.logger.Error("dial failed", "url", s.url, "error", err)
		}

		s.finish(fmt.Errorf("dial failed: %w", err), closing)

		return
	}

	s.connMu.Lock()
	if s.IsClosed() {
		s.connMu.Unlock()
		conn.Close()
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

func (s *GorillaSocket) prepare(conn *websocket.Conn) {
	if s.readLimit > 0 {
		conn.SetReadLimit(s.readLimit)
	}

	conn.SetPingHandler(func(appData string) error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil
		}

		return err
	})
}

func (s *GorillaSocket) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	defer conn.SetPingHandler(nil)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			expected := s.IsClosed() || websocket.IsCloseError(
				err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
			)
			if !expected {
				s.logger.Error("read error", "error", err)
			}

			s.finish(err, expected)

			return
		}

		s.events.emit(Event{Type: EventData, Data: data})
	}
}

func (s *GorillaSocket) Send(data []byte) error {
	if err := s.sendState(); err != nil {
		return err
	}

	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	return nil
}

func (s *GorillaSocket) Close() error {
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
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing")

		s.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeWait))
		s.writeMu.Unlock()

		err = conn.Close()
	}

	if !started {
		s.finish(nil, true)
	}

	return err
}

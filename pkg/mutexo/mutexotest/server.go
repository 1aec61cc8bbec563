// Package mutexotest - сервер mutexo в памяти для тестов и примеров.
package mutexotest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/LLIEPJIOK/mutexo-client/pkg/mutexo/protocol"
)

type ServerConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	// Token, если задан, должен совпадать с параметром token в URL.
	Token string
	// Followed ограничивает адреса, на которые можно подписаться; пустой - любые.
	Followed []string
	Logger   *slog.Logger
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		Logger:          slog.Default(),
	}
}

type subscription struct {
	kind    protocol.EventKind
	filters []protocol.Filter
}

type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	subs    []subscription
}

type Server struct {
	cfg      ServerConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu       sync.Mutex
	conns    map[*conn]struct{}
	locks    map[protocol.TxOutRef]*conn
	owners   map[protocol.TxOutRef]string
	requests chan protocol.Message
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:   cfg.Logger,
		conns:    make(map[*conn]struct{}),
		locks:    make(map[protocol.TxOutRef]*conn),
		owners:   make(map[protocol.TxOutRef]string),
		requests: make(chan protocol.Message, 256),
	}
}

// Requests отдаёт декодированные запросы клиентов в порядке получения.
func (s *Server) Requests() <-chan protocol.Message {
	return s.requests
}

// SetOwner задаёт адрес, которому принадлежит UTxO; он попадает в события lock/free.
func (s *Server) SetOwner(ref protocol.TxOutRef, address string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.owners[ref] = address
}

func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.conns)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Token != "" && r.URL.Query().Get("token") != s.cfg.Token {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade connection", "error", err)
		return
	}
	defer wsConn.Close()

	c := &conn{ws: wsConn}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	s.logger.Info("client connected", "remote_addr", wsConn.RemoteAddr())
	defer s.logger.Info("client disconnected", "remote_addr", wsConn.RemoteAddr())

	defer s.dropConn(c)

	s.handleConnection(r.Context(), c)
}

func (s *Server) dropConn(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)

	var freed []protocol.Message

	for ref, holder := range s.locks {
		if holder == c {
			delete(s.locks, ref)
			freed = append(freed, &protocol.Free{Ref: ref, Address: s.owners[ref]})
		}
	}
	s.mu.Unlock()

	for _, msg := range freed {
		s.Publish(msg)
	}
}

func (s *Server) handleConnection(ctx context.Context, c *conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
			) {
				s.logger.Error("read error", "error", err)
			}

			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			s.logger.Error("failed to decode message", "error", err)
			s.send(c, &protocol.Error{Code: protocol.CodeMalformedMessage})

			continue
		}

		select {
		case s.requests <- msg:
		default:
		}

		if _, ok := msg.(*protocol.Close); ok {
			s.closeConn(c)
			return
		}

		s.processRequest(c, msg)
	}
}

func (s *Server) processRequest(c *conn, msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.ClientSub:
		if code, ok := s.checkFilters(m.Filters); !ok {
			s.send(c, &protocol.SubFailure{ID: m.ID, Code: code})
			return
		}

		s.mu.Lock()
		c.subs = append(c.subs, subscription{kind: m.EventType, filters: m.Filters})
		s.mu.Unlock()

		s.send(c, &protocol.SubSuccess{ID: m.ID})

	case *protocol.ClientUnsub:
		s.mu.Lock()
		key := protocol.FiltersKey(m.Filters)
		c.subs = slices.DeleteFunc(c.subs, func(sub subscription) bool {
			return sub.kind == m.EventType && protocol.FiltersKey(sub.filters) == key
		})
		s.mu.Unlock()

		s.send(c, &protocol.SubSuccess{ID: m.ID})

	case *protocol.ClientReqLock:
		s.lock(c, m)

	case *protocol.ClientReqFree:
		s.free(c, m)

	default:
		s.send(c, &protocol.Error{Code: protocol.CodeUnknownEvent})
	}
}

func (s *Server) checkFilters(filters []protocol.Filter) (protocol.ErrorCode, bool) {
	if len(s.cfg.Followed) == 0 {
		return 0, true
	}

	for _, f := range filters {
		if f.Type == protocol.FilterAddr && !slices.Contains(s.cfg.Followed, f.Address) {
			return protocol.CodeAddressNotFollowed, false
		}
	}

	return 0, true
}

// lock захватывает все свободные refs, если их не меньше Required.
func (s *Server) lock(c *conn, m *protocol.ClientReqLock) {
	s.mu.Lock()

	var free []protocol.TxOutRef

	for _, ref := range m.Refs {
		if holder, locked := s.locks[ref]; !locked || holder == c {
			free = append(free, ref)
		}
	}

	if len(free) < int(m.Required) || len(free) == 0 {
		s.mu.Unlock()
		s.send(c, &protocol.MutexFailure{ID: m.ID, Op: protocol.MutexOpLock, Refs: m.Refs})

		return
	}

	events := make([]protocol.Message, 0, len(free))
	for _, ref := range free {
		s.locks[ref] = c
		events = append(events, &protocol.Lock{Ref: ref, Address: s.owners[ref]})
	}
	s.mu.Unlock()

	s.send(c, &protocol.MutexSuccess{ID: m.ID, Op: protocol.MutexOpLock, Refs: free})

	for _, ev := range events {
		s.Publish(ev)
	}
}

func (s *Server) free(c *conn, m *protocol.ClientReqFree) {
	s.mu.Lock()

	var freed []protocol.TxOutRef

	for _, ref := range m.Refs {
		if s.locks[ref] == c {
			delete(s.locks, ref)
			freed = append(freed, ref)
		}
	}

	events := make([]protocol.Message, 0, len(freed))
	for _, ref := range freed {
		events = append(events, &protocol.Free{Ref: ref, Address: s.owners[ref]})
	}
	s.mu.Unlock()

	if len(freed) == 0 {
		s.send(c, &protocol.MutexFailure{ID: m.ID, Op: protocol.MutexOpFree, Refs: m.Refs})
		return
	}

	s.send(c, &protocol.MutexSuccess{ID: m.ID, Op: protocol.MutexOpFree, Refs: freed})

	for _, ev := range events {
		s.Publish(ev)
	}
}

// Publish отправляет событие всем клиентам с подходящей подпиской.
func (s *Server) Publish(msg protocol.Message) {
	kind, ok := protocol.KindOf(msg)
	if !ok {
		return
	}

	ref, addr := eventTarget(msg)

	s.mu.Lock()
	var targets []*conn
	for c := range s.conns {
		if slices.ContainsFunc(c.subs, func(sub subscription) bool {
			return sub.kind == kind && matches(sub.filters, ref, addr)
		}) {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	for _, c := range targets {
		s.send(c, msg)
	}
}

// Broadcast отправляет сообщение всем клиентам без учёта подписок.
func (s *Server) Broadcast(msg protocol.Message) {
	s.mu.Lock()
	targets := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		s.send(c, msg)
	}
}

// BroadcastRaw отправляет всем клиентам произвольный кадр.
func (s *Server) BroadcastRaw(data []byte) {
	s.mu.Lock()
	targets := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		s.write(c, data)
	}
}

// CloseAll отправляет всем клиентам Close и закрывает соединения.
func (s *Server) CloseAll() {
	s.mu.Lock()
	targets := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		s.send(c, &protocol.Close{})
		s.closeConn(c)
	}
}

func (s *Server) closeConn(c *conn) {
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server closing")

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.WriteMessage(websocket.CloseMessage, closeMsg)
}

func eventTarget(msg protocol.Message) (protocol.TxOutRef, string) {
	switch m := msg.(type) {
	case *protocol.Free:
		return m.Ref, m.Address
	case *protocol.Lock:
		return m.Ref, m.Address
	case *protocol.Input:
		return m.Ref, m.Address
	case *protocol.Output:
		return m.Ref, m.Address
	default:
		return protocol.TxOutRef{}, ""
	}
}

func matches(filters []protocol.Filter, ref protocol.TxOutRef, addr string) bool {
	if len(filters) == 0 {
		return true
	}

	for _, f := range filters {
		switch f.Type {
		case protocol.FilterAddr:
			if f.Address == addr {
				return true
			}
		case protocol.FilterUTxORef:
			if f.Ref != nil && *f.Ref == ref {
				return true
			}
		}
	}

	return false
}

func (s *Server) send(c *conn, msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		s.logger.Error("failed to encode message", "error", err)
		return
	}

	s.write(c, data)
}

func (s *Server) write(c *conn, data []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		s.logger.Error("failed to write message", "error", err)
	}
}

// AuthHandler отвечает на GET /wsAuth так же, как настоящий сервер.
func AuthHandler(token string, port int) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /wsAuth", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"token": token, "port": port})
	})

	return mux
}

// Start поднимает httptest сервер и возвращает ws URL для подключения.
func Start(cfg ServerConfig) (*Server, *httptest.Server, string) {
	srv := NewServer(cfg)
	ts := httptest.NewServer(srv)

	// Преобразуем HTTP URL в WebSocket URL
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	if cfg.Token != "" {
		wsURL += "/events?token=" + url.QueryEscape(cfg.Token)
	}

	return srv, ts, wsURL
}

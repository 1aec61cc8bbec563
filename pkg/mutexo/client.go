package mutexo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/LLIEPJIOK/mutexo-client/pkg/mutexo/protocol"
	"github.com/LLIEPJIOK/mutexo-client/pkg/ws"
)

const tracerName = "mutexo"

type Client struct {
	cfg     ClientConfig
	sock    ws.Socket
	ids     *IDPool
	events  *Dispatcher
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer

	state atomic.Int32
	ready chan struct{}
	done  chan struct{}

	subsMu sync.Mutex
	subs   map[subKey][]ListenerID
}

// subKey - подписка на сервере: вид события и набор фильтров.
type subKey struct {
	kind    EventKind
	filters string
}

func newSubKey(kind EventKind, filters []protocol.Filter) subKey {
	return subKey{kind: kind, filters: protocol.FiltersKey(filters)}
}

// NewClient берёт сокет во владение и запускает его.
func NewClient(sock ws.Socket, cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}

	logger := cfg.Logger.With("client", uuid.NewString())

	c := &Client{
		cfg:     cfg,
		sock:    sock,
		ids:     NewIDPool(),
		events:  NewDispatcher(logger),
		logger:  logger,
		metrics: cfg.Metrics,
		tracer:  cfg.Tracer,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		subs:    make(map[subKey][]ListenerID),
	}

	sock.On(ws.EventConnect, func(ws.Event) {
		c.markReady()
	})
	sock.On(ws.EventData, func(ev ws.Event) {
		c.ingest(ev.Data)
	})
	sock.On(ws.EventError, func(ev ws.Event) {
		c.destroy(nil, ev.Err)
	})
	sock.On(ws.EventClose, func(ev ws.Event) {
		c.destroy(nil, ev.Err)
	})

	switch {
	case sock.IsReady():
		c.markReady()
	case sock.IsClosed():
		c.destroy(nil, ws.ErrSocketClosed)
	}

	sock.Start()

	return c
}

// Dial открывает сокет выбранного бэкенда и создаёт поверх него клиента.
// Готовность соединения можно дождаться через WaitUntilReady.
func Dial(
	ctx context.Context,
	backend ws.Backend,
	url string,
	cfg ClientConfig,
	opts ...ws.Option,
) (*Client, error) {
	if cfg.Logger != nil {
		opts = append([]ws.Option{ws.WithLogger(cfg.Logger)}, opts...)
	}

	sock, err := ws.Dial(ctx, backend, url, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	return NewClient(sock, cfg), nil
}

func (c *Client) ingest(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		c.dropInvalid(fmt.Errorf("%w: %w", ErrInvalidMessage, err))
		return
	}

	kind, ok := protocol.KindOf(msg)
	if !ok {
		c.dropInvalid(fmt.Errorf("%w: unexpected %T", ErrInvalidMessage, msg))
		return
	}

	c.metrics.messageReceived(kind)

	if closeMsg, ok := msg.(*protocol.Close); ok {
		c.destroy(closeMsg, nil)
		return
	}

	c.events.Emit(kind, msg)
}

func (c *Client) dropInvalid(err error) {
	c.metrics.invalidMessage()
	c.logger.Error("failed to decode message", "error", err)
}

func (c *Client) On(kind EventKind, fn Listener) ListenerID {
	return c.events.On(kind, fn)
}

func (c *Client) Once(kind EventKind, fn Listener) ListenerID {
	return c.events.Once(kind, fn)
}

func (c *Client) Off(kind EventKind, id ListenerID) {
	c.events.Off(kind, id)
}

func (c *Client) Emit(kind EventKind, msg protocol.Message) bool {
	return c.events.Emit(kind, msg)
}

func (c *Client) Clear(kinds ...EventKind) {
	c.events.Clear(kinds...)
}

// Close отправляет серверу Close, если соединение открыто, закрывает сокет
// и переводит клиента в StateDestroyed.
func (c *Client) Close() error {
	if c.IsDestroyed() {
		return nil
	}

	var errs []error

	if c.sock.IsReady() {
		data, err := protocol.Encode(&protocol.Close{})
		if err == nil {
			err = c.sock.Send(data)
		}

		if err != nil {
			errs = append(errs, fmt.Errorf("failed to send close: %w", err))
		}
	}

	if err := c.sock.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close socket: %w", err))
	}

	c.destroy(nil, nil)

	return errors.Join(errs...)
}

// Subscribe подписывает на события kind с фильтрами. handler (если задан)
// добавляется постоянным обработчиком только после SubSuccess.
// SubFailure возвращается как значение, а не как ошибка.
func (c *Client) Subscribe(
	ctx context.Context,
	kind EventKind,
	filters []protocol.Filter,
	handler Listener,
) (protocol.SubAck, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventName, kind)
	}

	reply, err := c.roundTrip(ctx, request{
		op:      "subscribe",
		kind:    kind,
		success: KindSubSuccess,
		failure: KindSubFailure,
		build: func(id uint32) protocol.Message {
			return &protocol.ClientSub{ID: id, EventType: kind, Filters: filters}
		},
		onSuccess: func() {
			if handler == nil {
				return
			}

			id := c.events.On(kind, handler)
			key := newSubKey(kind, filters)

			c.subsMu.Lock()
			c.subs[key] = append(c.subs[key], id)
			c.subsMu.Unlock()
		},
	})
	if err != nil {
		return nil, err
	}

	return asAck[protocol.SubAck](reply)
}

// Unsubscribe отменяет подписку; при SubSuccess снимает обработчики,
// добавленные Subscribe с тем же видом и тем же набором фильтров.
func (c *Client) Unsubscribe(
	ctx context.Context,
	kind EventKind,
	filters []protocol.Filter,
) (protocol.SubAck, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventName, kind)
	}

	reply, err := c.roundTrip(ctx, request{
		op:      "unsubscribe",
		kind:    kind,
		success: KindSubSuccess,
		failure: KindSubFailure,
		build: func(id uint32) protocol.Message {
			return &protocol.ClientUnsub{ID: id, EventType: kind, Filters: filters}
		},
		onSuccess: func() {
			key := newSubKey(kind, filters)

			c.subsMu.Lock()
			ids := c.subs[key]
			delete(c.subs, key)
			c.subsMu.Unlock()

			for _, id := range ids {
				c.events.Off(kind, id)
			}
		},
	})
	if err != nil {
		return nil, err
	}

	return asAck[protocol.SubAck](reply)
}

// Lock запрашивает блокировку хотя бы required из refs; required < 1 считается 1.
func (c *Client) Lock(ctx context.Context, refs []protocol.TxOutRef, required int) (protocol.LockAck, error) {
	req := uint32(1)
	if required > 1 {
		req = uint32(min(uint64(required), math.MaxUint32))
	}

	reply, err := c.roundTrip(ctx, request{
		op:      "lock",
		success: KindMutexSuccess,
		failure: KindMutexFailure,
		build: func(id uint32) protocol.Message {
			return &protocol.ClientReqLock{ID: id, Refs: refs, Required: req}
		},
	})
	if err != nil {
		return nil, err
	}

	return asAck[protocol.LockAck](reply)
}

func (c *Client) Free(ctx context.Context, refs []protocol.TxOutRef) (protocol.LockAck, error) {
	reply, err := c.roundTrip(ctx, request{
		op:      "free",
		success: KindMutexSuccess,
		failure: KindMutexFailure,
		build: func(id uint32) protocol.Message {
			return &protocol.ClientReqFree{ID: id, Refs: refs}
		},
	})
	if err != nil {
		return nil, err
	}

	return asAck[protocol.LockAck](reply)
}

func asAck[T protocol.Reply](reply protocol.Reply) (T, error) {
	ack, ok := reply.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: unexpected reply %T", ErrInvalidMessage, reply)
	}

	return ack, nil
}

type request struct {
	op        string
	kind      EventKind
	success   EventKind
	failure   EventKind
	build     func(id uint32) protocol.Message
	onSuccess func()
}

type pendingRequest struct {
	id        uint32
	replyCh   chan protocol.Reply
	errCh     chan error
	listeners [3]struct {
		kind EventKind
		id   ListenerID
	}
	once sync.Once
}

func (c *Client) finish(pr *pendingRequest) {
	pr.once.Do(func() {
		for _, l := range pr.listeners {
			c.events.Off(l.kind, l.id)
		}

		c.ids.Release(pr.id)
		c.metrics.requestFinished()
	})
}

// roundTrip отправляет запрос и ждёт ответа с тем же ID, ошибки сервера,
// тайм-аута, отмены ctx или уничтожения клиента.
func (c *Client) roundTrip(ctx context.Context, req request) (protocol.Reply, error) {
	ctx, span := c.tracer.Start(ctx, "mutexo."+req.op)
	defer span.End()

	start := time.Now()

	id := c.ids.Allocate()
	span.SetAttributes(attribute.Int64("mutexo.request_id", int64(id)))

	if req.op == "subscribe" || req.op == "unsubscribe" {
		span.SetAttributes(attribute.String("mutexo.kind", req.kind.String()))
	}

	fail := func(err error) (protocol.Reply, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.observeRequest(req.op, "error", start)
		c.logger.Debug("request failed", "op", req.op, "id", id, "error", err)

		return nil, err
	}

	if err := c.WaitUntilReady(ctx); err != nil {
		c.ids.Release(id)
		return fail(err)
	}

	pr := &pendingRequest{
		id:      id,
		replyCh: make(chan protocol.Reply, 1),
		errCh:   make(chan error, 1),
	}

	onReply := func(msg protocol.Message) {
		reply, ok := msg.(protocol.Reply)
		if !ok || reply.RequestID() != id {
			return
		}

		if kind, _ := protocol.KindOf(msg); kind == req.success && req.onSuccess != nil {
			req.onSuccess()
		}

		select {
		case pr.replyCh <- reply:
		default:
		}

		c.finish(pr)
	}

	onError := func(msg protocol.Message) {
		code := protocol.CodeUnknown
		if e, ok := msg.(*protocol.Error); ok {
			code = e.Code
		}

		select {
		case pr.errCh <- &ProtocolError{Code: code}:
		default:
		}

		c.finish(pr)
	}

	c.metrics.requestStarted()

	pr.listeners[0].kind, pr.listeners[0].id = req.success, c.events.On(req.success, onReply)
	pr.listeners[1].kind, pr.listeners[1].id = req.failure, c.events.On(req.failure, onReply)
	pr.listeners[2].kind, pr.listeners[2].id = KindError, c.events.On(KindError, onError)

	data, err := protocol.Encode(req.build(id))
	if err != nil {
		c.finish(pr)
		return fail(fmt.Errorf("failed to encode %s request: %w", req.op, err))
	}

	if err := c.sock.Send(data); err != nil {
		c.finish(pr)
		return fail(fmt.Errorf("failed to send %s request: %w", req.op, err))
	}

	c.logger.Debug("request sent", "op", req.op, "id", id)

	var timeout <-chan time.Time

	if c.cfg.RequestTimeout > 0 {
		timer := time.NewTimer(c.cfg.RequestTimeout)
		defer timer.Stop()

		timeout = timer.C
	}

	select {
	case reply := <-pr.replyCh:
		return c.replied(span, req, reply, start)

	case err := <-pr.errCh:
		return fail(err)

	case <-ctx.Done():
		c.finish(pr)
		return fail(ctx.Err())

	case <-timeout:
		c.finish(pr)
		return fail(ErrRequestTimeout)

	case <-c.done:
		c.finish(pr)

		select {
		case reply := <-pr.replyCh:
			return c.replied(span, req, reply, start)
		case err := <-pr.errCh:
			return fail(err)
		default:
		}

		return fail(ErrClientDestroyed)
	}
}

func (c *Client) replied(
	span trace.Span,
	req request,
	reply protocol.Reply,
	start time.Time,
) (protocol.Reply, error) {
	outcome := "success"
	if kind, _ := protocol.KindOf(reply); kind == req.failure {
		outcome = "failure"
	}

	span.SetAttributes(attribute.String("mutexo.outcome", outcome))
	c.metrics.observeRequest(req.op, outcome, start)
	c.logger.Debug("request completed", "op", req.op, "id", reply.RequestID(), "outcome", outcome)

	return reply, nil
}

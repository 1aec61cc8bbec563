package mutexo

import (
	"context"
	"fmt"

	"github.com/LLIEPJIOK/mutexo-client/pkg/mutexo/protocol"
)

type State int32

const (
	StateConnecting State = iota
	StateReady
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) IsReady() bool {
	return c.State() == StateReady
}

func (c *Client) IsDestroyed() bool {
	return c.State() == StateDestroyed
}

// Done закрывается, когда клиент переходит в StateDestroyed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// WaitUntilReady ждёт готовности соединения. Для уничтоженного клиента
// сразу возвращает ErrClientDestroyed.
func (c *Client) WaitUntilReady(ctx context.Context) error {
	switch c.State() {
	case StateReady:
		return nil
	case StateDestroyed:
		return ErrClientDestroyed
	}

	select {
	case <-c.ready:
		if c.IsDestroyed() {
			return ErrClientDestroyed
		}

		return nil

	case <-c.done:
		return ErrClientDestroyed

	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) markReady() {
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateReady)) {
		return
	}

	close(c.ready)
	c.logger.Info("client ready")
}

// destroy переводит клиента в StateDestroyed ровно один раз и сообщает
// подписчикам KindClose. msg - полученное сообщение Close, если закрытие
// инициировал сервер.
func (c *Client) destroy(msg *protocol.Close, cause error) {
	for {
		s := c.state.Load()
		if State(s) == StateDestroyed {
			return
		}

		if c.state.CompareAndSwap(s, int32(StateDestroyed)) {
			break
		}
	}

	close(c.done)
	c.sock.Dispose()

	if msg != nil && !c.sock.IsClosed() {
		go func() {
			if err := c.sock.Close(); err != nil {
				c.logger.Warn("failed to close socket", "error", err)
			}
		}()
	}

	switch {
	case cause != nil:
		c.logger.Warn("client destroyed", "error", cause)
	case msg != nil:
		c.logger.Info("client destroyed by server")
	default:
		c.logger.Info("client destroyed")
	}

	c.metrics.clientDestroyed()

	if msg == nil {
		msg = &protocol.Close{}
	}

	c.events.Emit(KindClose, msg)
}

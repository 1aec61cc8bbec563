package ws_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	cws "github.com/coder/websocket"
	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LLIEPJIOK/mutexo-client/pkg/ws"
)

var backends = []ws.Backend{ws.BackendGorilla, ws.BackendCoder}

var upgrader = gws.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func startServer(t *testing.T, handle func(conn *gws.Conn)) string {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		handle(conn)
	}))
	t.Cleanup(ts.Close)

	// Преобразуем HTTP URL в WebSocket URL
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func echo(conn *gws.Conn) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		if err := conn.WriteMessage(mt, data); err != nil {
			return
		}
	}
}

type recorder struct {
	connect chan struct{}
	data    chan []byte
	closed  chan struct{}
	closes  atomic.Int32
	errs    atomic.Int32
}

func record(sock ws.Socket) *recorder {
	r := &recorder{
		connect: make(chan struct{}, 1),
		data:    make(chan []byte, 16),
		closed:  make(chan struct{}),
	}

	sock.On(ws.EventConnect, func(ws.Event) { r.connect <- struct{}{} })
	sock.On(ws.EventData, func(ev ws.Event) { r.data <- ev.Data })
	sock.On(ws.EventError, func(ws.Event) { r.errs.Add(1) })
	sock.On(ws.EventClose, func(ws.Event) {
		if r.closes.Add(1) == 1 {
			close(r.closed)
		}
	})

	return r
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for socket event")
	}

	var zero T

	return zero
}

func TestSocket_Echo(t *testing.T) {
	url := startServer(t, echo)

	for _, backend := range backends {
		t.Run(backend.String(), func(t *testing.T) {
			sock, err := ws.Dial(context.Background(), backend, url)
			require.NoError(t, err)

			rec := record(sock)
			assert.Equal(t, ws.StateConnecting, sock.ReadyState())
			assert.False(t, sock.IsReady())
			assert.False(t, sock.IsClosed())

			sock.Start()
			waitFor(t, rec.connect)
			assert.True(t, sock.IsReady())

			require.NoError(t, sock.Send([]byte{0x82, 0x08, 0x07}))
			assert.Equal(t, []byte{0x82, 0x08, 0x07}, waitFor(t, rec.data))

			require.NoError(t, sock.Close())
			waitFor(t, rec.closed)

			assert.True(t, sock.IsClosed())
			assert.Equal(t, ws.StateClosed, sock.ReadyState())
			assert.Equal(t, int32(1), rec.closes.Load())
			assert.Equal(t, int32(0), rec.errs.Load())
			require.ErrorIs(t, sock.Send([]byte{1}), ws.ErrSocketClosed)
		})
	}
}

func TestSocket_SendBeforeReady(t *testing.T) {
	url := startServer(t, echo)

	for _, backend := range backends {
		t.Run(backend.String(), func(t *testing.T) {
			sock, err := ws.Dial(context.Background(), backend, url)
			require.NoError(t, err)

			require.ErrorIs(t, sock.Send([]byte{1}), ws.ErrNotReady)

			rec := record(sock)
			require.NoError(t, sock.Close())
			waitFor(t, rec.closed)

			require.ErrorIs(t, sock.Send([]byte{1}), ws.ErrSocketClosed)
		})
	}
}

func TestSocket_ServerClose(t *testing.T) {
	url := startServer(t, func(conn *gws.Conn) {
		msg := gws.FormatCloseMessage(gws.CloseNormalClosure, "bye")
		_ = conn.WriteMessage(gws.CloseMessage, msg)
		_, _, _ = conn.ReadMessage()
	})

	for _, backend := range backends {
		t.Run(backend.String(), func(t *testing.T) {
			sock, err := ws.Dial(context.Background(), backend, url)
			require.NoError(t, err)

			rec := record(sock)
			sock.Start()
			waitFor(t, rec.closed)

			assert.True(t, sock.IsClosed())
			assert.Equal(t, int32(1), rec.closes.Load())
			assert.Equal(t, int32(0), rec.errs.Load())
		})
	}
}

func TestSocket_DialFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	ts.Close()

	for _, backend := range backends {
		t.Run(backend.String(), func(t *testing.T) {
			sock, err := ws.Dial(context.Background(), backend, url, ws.WithHandshakeTimeout(time.Second))
			require.NoError(t, err)

			rec := record(sock)
			sock.Start()
			waitFor(t, rec.closed)

			assert.Equal(t, int32(1), rec.errs.Load())
			assert.Equal(t, int32(1), rec.closes.Load())
			assert.Equal(t, ws.StateClosed, sock.ReadyState())
		})
	}
}

func TestSocket_Off(t *testing.T) {
	url := startServer(t, echo)

	sock, err := ws.Dial(context.Background(), ws.BackendGorilla, url)
	require.NoError(t, err)

	rec := record(sock)

	var removed atomic.Int32
	id := sock.On(ws.EventData, func(ws.Event) { removed.Add(1) })
	require.NotZero(t, id)
	sock.Off(ws.EventData, id)

	sock.Start()
	waitFor(t, rec.connect)

	require.NoError(t, sock.Send([]byte("ping")))
	waitFor(t, rec.data)
	assert.Equal(t, int32(0), removed.Load())

	require.NoError(t, sock.Close())
	waitFor(t, rec.closed)
}

func TestGorillaSocket_AnswersPing(t *testing.T) {
	pongs := make(chan string, 1)

	url := startServer(t, func(conn *gws.Conn) {
		conn.SetPongHandler(func(appData string) error {
			pongs <- appData
			return nil
		})

		if err := conn.WriteControl(gws.PingMessage, []byte("hb"), time.Now().Add(time.Second)); err != nil {
			return
		}

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	sock := ws.DialGorilla(context.Background(), url)
	rec := record(sock)
	sock.Start()

	assert.Equal(t, "hb", waitFor(t, pongs))

	sock.Dispose()
	require.NoError(t, sock.Close())

	select {
	case <-rec.closed:
		t.Fatal("disposed socket must not emit events")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCoderSocket_TextAsBytes(t *testing.T) {
	url := startServer(t, func(conn *gws.Conn) {
		_ = conn.WriteMessage(gws.TextMessage, []byte("hello"))
		echo(conn)
	})

	sock := ws.DialCoder(context.Background(), url)
	rec := record(sock)
	sock.Start()

	assert.Equal(t, []byte("hello"), waitFor(t, rec.data))
	require.NoError(t, sock.Close())
	waitFor(t, rec.closed)
}

func TestWrap(t *testing.T) {
	url := startServer(t, echo)
	ctx := context.Background()

	gconn, _, err := gws.DefaultDialer.DialContext(ctx, url, nil)
	require.NoError(t, err)

	cconn, _, err := cws.Dial(ctx, url, nil)
	require.NoError(t, err)

	for _, raw := range []any{gconn, cconn} {
		sock, err := ws.Wrap(raw)
		require.NoError(t, err)
		assert.True(t, sock.IsReady())

		rec := record(sock)
		sock.Start()

		require.NoError(t, sock.Send([]byte("wrapped")))
		assert.Equal(t, []byte("wrapped"), waitFor(t, rec.data))

		same, err := ws.Wrap(sock)
		require.NoError(t, err)
		assert.Same(t, sock, same)

		require.NoError(t, sock.Close())
		waitFor(t, rec.closed)
	}
}

func TestWrap_Unsupported(t *testing.T) {
	for _, raw := range []any{nil, 42, "ws://localhost", (*gws.Conn)(nil), (*cws.Conn)(nil)} {
		sock, err := ws.Wrap(raw)
		require.ErrorIs(t, err, ws.ErrUnsupportedSocketKind)
		assert.Nil(t, sock)
	}

	_, err := ws.Dial(context.Background(), ws.Backend(9), "ws://localhost")
	require.ErrorIs(t, err, ws.ErrUnsupportedSocketKind)
}

func TestParseBackend(t *testing.T) {
	b, err := ws.ParseBackend("coder")
	require.NoError(t, err)
	assert.Equal(t, ws.BackendCoder, b)

	b, err = ws.ParseBackend("")
	require.NoError(t, err)
	assert.Equal(t, ws.BackendGorilla, b)

	_, err = ws.ParseBackend("nhooyr")
	require.ErrorIs(t, err, ws.ErrUnsupportedSocketKind)
}

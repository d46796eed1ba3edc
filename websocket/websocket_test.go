package websocket

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/indigo-web/awsgi/config"
	"github.com/indigo-web/awsgi/internal/metrics"
	"github.com/indigo-web/awsgi/internal/protocol/http1"
	"github.com/indigo-web/awsgi/wsgi"
	"github.com/stretchr/testify/require"

	gws "github.com/gorilla/websocket"
)

func startServer(t *testing.T, app wsgi.Application) string {
	srv := http1.NewServer(config.Default(), wsgi.NewCooperative(app), nil, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = ln.Close()
	})

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}

			go srv.Serve(ctx, conn, "http")
		}
	}()

	return ln.Addr().String()
}

func dial(t *testing.T, addr string, subprotocols ...string) (*gws.Conn, *http.Response) {
	dialer := gws.Dialer{
		HandshakeTimeout: time.Second,
		Subprotocols:     subprotocols,
	}

	conn, resp, err := dialer.Dial("ws://"+addr+"/ws?room=1", nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))

	return conn, resp
}

func requireClosedWith(t *testing.T, conn *gws.Conn, code int) {
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	require.True(t, gws.IsCloseError(err, code), err)
}

func TestWebSocket(t *testing.T) {
	t.Run("echo", func(t *testing.T) {
		paths := make(chan string, 1)
		addr := startServer(t, wsgi.ApplicationFunc(func(env wsgi.Environ, start wsgi.StartResponse) (wsgi.Body, error) {
			paths <- env.Path() + "?" + env.Query()
			return Upgrade(env, start, Options{}, echo)
		}))

		conn, resp := dial(t, addr)
		require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
		require.Equal(t, "/ws?room=1", <-paths)

		require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte("hello")))
		typ, data, err := conn.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, gws.TextMessage, typ)
		require.Equal(t, "hello", string(data))

		require.NoError(t, conn.WriteMessage(gws.BinaryMessage, []byte{0xff, 0}))
		typ, data, err = conn.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, gws.BinaryMessage, typ)
		require.Equal(t, []byte{0xff, 0}, data)

		closing := gws.FormatCloseMessage(gws.CloseNormalClosure, "bye")
		require.NoError(t, conn.WriteControl(gws.CloseMessage, closing, time.Now().Add(time.Second)))
		requireClosedWith(t, conn, gws.CloseNormalClosure)
	})

	t.Run("subprotocol", func(t *testing.T) {
		addr := startServer(t, NewApplication(Options{Subprotocols: []string{"chat"}}, echo))
		conn, _ := dial(t, addr, "superchat", "chat")
		require.Equal(t, "chat", conn.Subprotocol())
	})

	t.Run("message too big", func(t *testing.T) {
		addr := startServer(t, NewApplication(Options{ReadLimit: 16}, echo))
		conn, _ := dial(t, addr)
		require.NoError(t, conn.WriteMessage(gws.BinaryMessage, make([]byte, 64)))
		requireClosedWith(t, conn, gws.CloseMessageTooBig)
	})

	t.Run("invalid UTF-8", func(t *testing.T) {
		addr := startServer(t, NewApplication(Options{}, echo))
		conn, _ := dial(t, addr)
		require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte{0xff, 0xfe}))
		requireClosedWith(t, conn, gws.CloseInvalidFramePayloadData)
	})

	t.Run("protocol violation reported by the handler", func(t *testing.T) {
		addr := startServer(t, NewApplication(Options{}, func(context.Context, *Conn, Message) error {
			return &ProtocolError{Reason: "no messages expected"}
		}))
		conn, _ := dial(t, addr)
		require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte("hi")))
		requireClosedWith(t, conn, gws.CloseProtocolError)
	})

	t.Run("unexpected failure", func(t *testing.T) {
		addr := startServer(t, NewApplication(Options{}, func(context.Context, *Conn, Message) error {
			return io.ErrClosedPipe
		}))
		conn, _ := dial(t, addr)
		require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte("hi")))
		requireClosedWith(t, conn, gws.CloseInternalServerErr)
	})

	t.Run("unmasked frame", func(t *testing.T) {
		addr := startServer(t, NewApplication(Options{}, echo))
		conn, _ := dial(t, addr)
		// clients must mask every frame
		_, err := conn.UnderlyingConn().Write([]byte{0x81, 0x02, 'h', 'i'})
		require.NoError(t, err)
		requireClosedWith(t, conn, gws.CloseProtocolError)
	})

	t.Run("connection reset", func(t *testing.T) {
		m := metrics.New()
		addr := startServer(t, NewApplication(Options{Metrics: m}, echo))
		conn, _ := dial(t, addr)
		require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte("hello")))
		_, _, err := conn.ReadMessage()
		require.NoError(t, err)

		tcp := conn.UnderlyingConn().(*net.TCPConn)
		require.NoError(t, tcp.SetLinger(0))
		require.NoError(t, tcp.Close())

		require.Eventually(t, func() bool {
			return strings.Contains(scrape(t, m), `awsgi_websocket_closures_total{code="1006"} 1`)
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("handshake rejected", func(t *testing.T) {
		addr := startServer(t, NewApplication(Options{}, echo))
		resp, err := http.Get("http://" + addr + "/ws")
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
		require.Empty(t, resp.Header.Get("Upgrade"))
		require.Equal(t, "close", strings.ToLower(resp.Header.Get("Connection")))
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NotEmpty(t, body)
	})
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)

	return string(body)
}

func TestNewRequest(t *testing.T) {
	env := wsgi.Environ{
		wsgi.KeyRequestMethod:              "GET",
		wsgi.KeyPathInfo:                   "/chat room",
		wsgi.KeyQueryString:                "a=b",
		wsgi.KeyHost:                       "example.com",
		wsgi.KeyRemoteAddr:                 "10.0.0.1",
		wsgi.KeyRemotePort:                 "5000",
		wsgi.HeaderKey("Sec-WebSocket-Key"): "dGhlIHNhbXBsZSBub25jZQ==",
		wsgi.HeaderKey("Connection"):        "Upgrade",
		wsgi.KeyContentLength:              "",
	}

	req := newRequest(env)
	require.Equal(t, "GET", req.Method)
	require.Equal(t, "/chat room", req.URL.Path)
	require.Equal(t, "/chat%20room?a=b", req.RequestURI)
	require.Equal(t, "example.com", req.Host)
	require.Equal(t, "10.0.0.1:5000", req.RemoteAddr)
	require.True(t, req.ProtoAtLeast(1, 1))
	require.Equal(t, "dGhlIHNhbXBsZSBub25jZQ==", req.Header.Get("Sec-WebSocket-Key"))
	require.Equal(t, "Upgrade", req.Header.Get("Connection"))
}

type recordingStart struct {
	status  string
	headers []wsgi.Header
}

func (r *recordingStart) start(status string, headers []wsgi.Header) error {
	r.status, r.headers = status, headers
	return nil
}

func TestResponseWriter(t *testing.T) {
	rec := new(recordingStart)
	w := &responseWriter{start: rec.start, header: make(http.Header)}
	w.Header().Set("Connection", "Upgrade")
	w.Header().Set("Upgrade", "websocket")
	w.Header().Set("Content-Type", "text/plain")
	_, err := w.Write([]byte("bad handshake"))
	require.NoError(t, err)

	require.Equal(t, "200 OK", rec.status)
	require.Equal(t, []wsgi.Header{
		{Key: "Content-Type", Value: "text/plain"},
		{Key: "Connection", Value: "close"},
	}, rec.headers)

	_, _, err = w.Hijack()
	require.ErrorIs(t, err, errNotUpgraded)
}

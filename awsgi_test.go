package awsgi

import (
	"bufio"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dchest/uniuri"
	"github.com/indigo-web/awsgi/config"
	"github.com/indigo-web/awsgi/wsgi"
	"github.com/stretchr/testify/require"
)

func echoApp() wsgi.Application {
	return wsgi.ApplicationFunc(func(env wsgi.Environ, start wsgi.StartResponse) (wsgi.Body, error) {
		body, err := io.ReadAll(env.Input())
		if err != nil {
			return nil, err
		}

		err = start("200 OK", []wsgi.Header{
			{Key: "Content-Length", Value: strconv.Itoa(len(body))},
			{Key: "X-Scheme", Value: env.Get(wsgi.KeyURLScheme)},
			{Key: "X-Method", Value: env.Method()},
		})
		if err != nil {
			return nil, err
		}

		return wsgi.Chunks(body), nil
	})
}

// run starts the app and returns the bound addresses once it's serving.
func run(t *testing.T, app *App, handler wsgi.Handler) []net.Addr {
	cfg := config.Default()
	cfg.NET.AcceptLoopInterruptPeriod = 20 * time.Millisecond
	app.Tune(cfg)

	started := make(chan struct{})
	errs := make(chan error, 1)
	app.NotifyOnStart(func() {
		close(started)
	})

	go func() {
		errs <- app.Serve(handler)
	}()

	select {
	case <-started:
	case err := <-errs:
		t.Fatalf("app failed to start: %s", err)
	}

	t.Cleanup(func() {
		app.Stop()
		require.NoError(t, <-errs)
	})

	return app.Addrs()
}

func TestApp(t *testing.T) {
	t.Run("plain HTTP", func(t *testing.T) {
		addrs := run(t, New("127.0.0.1:0"), wsgi.NewBlocking(echoApp()))
		body := uniuri.NewLen(1024)

		resp, err := http.Post("http://"+addrs[0].String()+"/", "text/plain", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "http", resp.Header.Get("X-Scheme"))
		require.Equal(t, "POST", resp.Header.Get("X-Method"))
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.Equal(t, body, string(data))
	})

	t.Run("half-close after the response", func(t *testing.T) {
		addrs := run(t, New("127.0.0.1:0"), wsgi.NewCooperative(echoApp()))
		conn, err := net.Dial("tcp", addrs[0].String())
		require.NoError(t, err)
		defer conn.Close()

		_, err = conn.Write([]byte("POST /x HTTP/1.1\r\nHost: h\r\nContent-Length: 5\r\n\r\nhello"))
		require.NoError(t, err)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))

		// reading until EOF proves the half-close
		data, err := io.ReadAll(conn)
		require.NoError(t, err)
		resp, err := http.ReadResponse(bufio.NewReader(strings.NewReader(string(data))), nil)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.Equal(t, "hello", string(body))
	})

	t.Run("several listeners", func(t *testing.T) {
		app := New("127.0.0.1:0").
			Listen("127.0.0.1:0").
			AutoHTTPS("127.0.0.1:0")
		addrs := run(t, app, wsgi.NewCooperative(echoApp()))
		require.Len(t, addrs, 3)

		resp, err := http.Get("http://" + addrs[1].String())
		require.NoError(t, err)
		require.Equal(t, "http", resp.Header.Get("X-Scheme"))
		require.NoError(t, resp.Body.Close())

		client := &http.Client{Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}}
		resp, err = client.Get("https://" + addrs[2].String())
		require.NoError(t, err)
		require.Equal(t, "https", resp.Header.Get("X-Scheme"))
		require.NoError(t, resp.Body.Close())
	})

	t.Run("stop closes idle connections", func(t *testing.T) {
		app := New("127.0.0.1:0")
		addrs := run(t, app, wsgi.NewCooperative(echoApp()))
		conn, err := net.Dial("tcp", addrs[0].String())
		require.NoError(t, err)
		defer conn.Close()

		// make sure the connection is accepted before stopping
		time.Sleep(50 * time.Millisecond)
		stopped := make(chan struct{})
		go func() {
			app.Stop()
			close(stopped)
		}()

		select {
		case <-stopped:
		case <-time.After(time.Second):
			t.Fatal("app didn't stop")
		}

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		_, err = conn.Read(make([]byte, 1))
		require.ErrorIs(t, err, io.EOF)
	})

	t.Run("no application", func(t *testing.T) {
		require.Error(t, New("127.0.0.1:0").Serve(wsgi.Handler{}))
	})
}

func TestIsLocalhost(t *testing.T) {
	require.True(t, isLocalhost("localhost:443"))
	require.True(t, isLocalhost("127.0.0.1:443"))
	require.True(t, isLocalhost("[::1]:443"))
	require.False(t, isLocalhost("example.com:443"))
	require.False(t, isLocalhost(":443"))
}

package demo

import (
	"strings"
	"testing"

	"github.com/indigo-web/awsgi/internal/blockio"
	"github.com/indigo-web/awsgi/websocket"
	"github.com/indigo-web/awsgi/wsgi"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/require"
)

type response struct {
	status  string
	headers []wsgi.Header
	body    string
}

func call(t *testing.T, app wsgi.Application, env wsgi.Environ, body string) response {
	input := blockio.New()
	_, _ = input.Write([]byte(body))
	input.FeedEOF()
	env[wsgi.KeyInput] = input

	var resp response
	chunks, err := app.Call(env, func(status string, headers []wsgi.Header) error {
		resp.status, resp.headers = status, headers
		return nil
	})
	require.NoError(t, err)

	var buff strings.Builder
	for chunk, err := range chunks {
		require.NoError(t, err)
		buff.Write(chunk)
	}

	resp.body = buff.String()
	return resp
}

func TestEcho(t *testing.T) {
	t.Run("form", func(t *testing.T) {
		resp := call(t, Echo(), wsgi.Environ{
			wsgi.KeyRequestMethod:    "POST",
			wsgi.KeyPathInfo:         "/test",
			wsgi.KeyQueryString:      "a=1&a=2",
			wsgi.KeyContentType:      "application/x-www-form-urlencoded",
			wsgi.HeaderKey("X-Test"): "yes",
		}, "Body=hello&To=%2B1")

		require.Equal(t, "200 OK", resp.status)
		var decoded echoResponse
		require.NoError(t, jsoniter.Unmarshal([]byte(resp.body), &decoded))
		require.Equal(t, "POST", decoded.Method)
		require.Equal(t, "/test", decoded.Path)
		require.Equal(t, []string{"1", "2"}, decoded.Args["a"])
		require.Equal(t, "hello", decoded.Form.Get("Body"))
		require.Equal(t, "+1", decoded.Form.Get("To"))
		require.Equal(t, "yes", decoded.Headers["X-TEST"])
		require.Equal(t, "application/x-www-form-urlencoded", decoded.Headers["CONTENT-TYPE"])
	})

	t.Run("json", func(t *testing.T) {
		resp := call(t, Echo(), wsgi.Environ{
			wsgi.KeyRequestMethod: "POST",
			wsgi.KeyContentType:   "application/json; charset=utf-8",
		}, `{"hello": ["world"]}`)

		require.Equal(t, "200 OK", resp.status)
		var decoded echoResponse
		require.NoError(t, jsoniter.Unmarshal([]byte(resp.body), &decoded))
		require.Equal(t, map[string]any{"hello": []any{"world"}}, decoded.JSON)
	})

	t.Run("malformed json", func(t *testing.T) {
		resp := call(t, Echo(), wsgi.Environ{
			wsgi.KeyContentType: "application/json",
		}, `{"hello"`)
		require.Equal(t, "400 Bad Request", resp.status)
	})
}

func TestNew(t *testing.T) {
	for _, name := range Names {
		app, err := New(name, websocket.Options{})
		require.NoError(t, err)
		require.NotNil(t, app)
	}

	_, err := New("flask", websocket.Options{})
	require.Error(t, err)
}

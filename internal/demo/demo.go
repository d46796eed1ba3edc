// Package demo holds the applications the CLI can serve without any user code.
package demo

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"strconv"
	"strings"

	"github.com/indigo-web/awsgi/websocket"
	"github.com/indigo-web/awsgi/wsgi"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Names lists the applications available via New.
var Names = []string{"echo", "websocket", "mux"}

// New returns the demo application by its name.
func New(name string, opts websocket.Options) (wsgi.Application, error) {
	switch name {
	case "echo":
		return Echo(), nil
	case "websocket":
		return WebSocketEcho(opts), nil
	case "mux":
		return Mux(opts), nil
	default:
		return nil, fmt.Errorf("unknown application %q, available: %s", name, strings.Join(Names, ", "))
	}
}

type echoResponse struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Args    url.Values        `json:"args"`
	Form    url.Values        `json:"form"`
	JSON    any               `json:"json"`
	Headers map[string]string `json:"headers"`
}

// Echo describes the request it receives as JSON: the query arguments, the form or
// JSON body and the headers.
func Echo() wsgi.Application {
	return wsgi.ApplicationFunc(func(env wsgi.Environ, start wsgi.StartResponse) (wsgi.Body, error) {
		args, err := url.ParseQuery(env.Query())
		if err != nil {
			return respondError(start, "400 Bad Request", err)
		}

		body, err := io.ReadAll(env.Input())
		if err != nil {
			return nil, err
		}

		resp := echoResponse{
			Method:  env.Method(),
			Path:    env.Path(),
			Args:    args,
			Form:    url.Values{},
			Headers: headers(env),
		}

		mediatype, _, _ := mime.ParseMediaType(env.Header("Content-Type"))
		switch mediatype {
		case "application/x-www-form-urlencoded":
			if resp.Form, err = url.ParseQuery(string(body)); err != nil {
				return respondError(start, "400 Bad Request", err)
			}
		case "application/json":
			if err = json.Unmarshal(body, &resp.JSON); err != nil {
				return respondError(start, "400 Bad Request", err)
			}
		}

		data, err := json.MarshalIndent(resp, "", "    ")
		if err != nil {
			return nil, err
		}

		err = start("200 OK", []wsgi.Header{
			{Key: "Content-Type", Value: "application/json"},
			{Key: "Content-Length", Value: strconv.Itoa(len(data))},
		})
		if err != nil {
			return nil, err
		}

		return wsgi.Chunks(data), nil
	})
}

// WebSocketEcho sends every received message back.
func WebSocketEcho(opts websocket.Options) wsgi.Application {
	return websocket.NewApplication(opts, func(ctx context.Context, conn *websocket.Conn, msg websocket.Message) error {
		return conn.Write(ctx, msg.Type, msg.Data)
	})
}

// Mux serves websocket connections on /ws and echoes everything else.
func Mux(opts websocket.Options) wsgi.Application {
	echo, ws := Echo(), WebSocketEcho(opts)

	return wsgi.ApplicationFunc(func(env wsgi.Environ, start wsgi.StartResponse) (wsgi.Body, error) {
		if env.Path() == "/ws" {
			return ws.Call(env, start)
		}

		return echo.Call(env, start)
	})
}

func headers(env wsgi.Environ) map[string]string {
	result := make(map[string]string)
	for key, value := range env {
		name, ok := strings.CutPrefix(key, "HTTP_")
		if !ok {
			continue
		}

		if v, ok := value.(string); ok {
			result[strings.ReplaceAll(name, "_", "-")] = v
		}
	}

	for _, key := range []string{wsgi.KeyContentType, wsgi.KeyContentLength} {
		if v := env.Get(key); len(v) > 0 {
			result[strings.ReplaceAll(key, "_", "-")] = v
		}
	}

	return result
}

func respondError(start wsgi.StartResponse, status string, err error) (wsgi.Body, error) {
	msg := []byte(err.Error())
	fields := []wsgi.Header{
		{Key: "Content-Type", Value: "text/plain"},
		{Key: "Content-Length", Value: strconv.Itoa(len(msg))},
	}

	if err = start(status, fields); err != nil {
		return nil, err
	}

	return wsgi.Chunks(msg), nil
}

package wsgi

import (
	"io"
	"strconv"
	"strings"
)

const (
	KeyProtocol       = "awsgi.protocol"
	KeyConnectionID   = "awsgi.connection_id"
	KeyVersion        = "wsgi.version"
	KeyURLScheme      = "wsgi.url_scheme"
	KeyInput          = "wsgi.input"
	KeyErrors         = "wsgi.errors"
	KeyMultithread    = "wsgi.multithread"
	KeyMultiprocess   = "wsgi.multiprocess"
	KeyRunOnce        = "wsgi.run_once"
	KeyRequestMethod  = "REQUEST_METHOD"
	KeyScriptName     = "SCRIPT_NAME"
	KeyPathInfo       = "PATH_INFO"
	KeyQueryString    = "QUERY_STRING"
	KeyContentType    = "CONTENT_TYPE"
	KeyContentLength  = "CONTENT_LENGTH"
	KeyRemoteAddr     = "REMOTE_ADDR"
	KeyRemotePort     = "REMOTE_PORT"
	KeyServerName     = "SERVER_NAME"
	KeyServerPort     = "SERVER_PORT"
	KeyServerProtocol = "SERVER_PROTOCOL"
	KeyHost           = "HTTP_HOST"
)

// Version is the interface version marker stored under KeyVersion.
var Version = [2]int{1, 0}

// Environ describes a single request. It is built once, after the request head is
// parsed, and is never touched by the gateway afterwards.
type Environ map[string]any

// HeaderKey converts a header name into its environ key, e.g. "X-Request-Id" into
// "HTTP_X_REQUEST_ID".
func HeaderKey(name string) string {
	return "HTTP_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

func (e Environ) Get(key string) string {
	value, _ := e[key].(string)
	return value
}

func (e Environ) Method() string {
	return e.Get(KeyRequestMethod)
}

func (e Environ) Path() string {
	return e.Get(KeyPathInfo)
}

func (e Environ) Query() string {
	return e.Get(KeyQueryString)
}

// Header returns a request header value by its name. Content-Type and Content-Length
// are looked up under their CGI keys.
func (e Environ) Header(name string) string {
	switch key := HeaderKey(name); key {
	case "HTTP_CONTENT_TYPE":
		return e.Get(KeyContentType)
	case "HTTP_CONTENT_LENGTH":
		return e.Get(KeyContentLength)
	default:
		return e.Get(key)
	}
}

// ContentLength returns the parsed Content-Length, or -1 if it's absent or malformed.
func (e Environ) ContentLength() int {
	length, err := strconv.Atoi(e.Get(KeyContentLength))
	if err != nil {
		return -1
	}

	return length
}

func (e Environ) Input() Input {
	input, _ := e[KeyInput].(Input)
	return input
}

func (e Environ) Errors() io.Writer {
	w, ok := e[KeyErrors].(io.Writer)
	if !ok {
		return io.Discard
	}

	return w
}

func (e Environ) Protocol() Protocol {
	proto, _ := e[KeyProtocol].(Protocol)
	return proto
}

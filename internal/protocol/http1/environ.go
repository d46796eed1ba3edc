package http1

import (
	"bytes"
	"encoding/hex"
	"io"
	"net"
	"net/url"
	"strings"

	"github.com/indigo-web/awsgi/wsgi"
	"go.uber.org/zap"
)

// request is a snapshot of the connection state taken once the request head is
// parsed. It's everything the environ is built from.
type request struct {
	id       string
	method   string
	target   string
	scheme   string
	headers  map[string]string
	remote   net.Addr
	local    net.Addr
	input    wsgi.Input
	errors   io.Writer
	protocol wsgi.Protocol
}

func buildEnviron(r request) (wsgi.Environ, error) {
	path, query, host, err := splitTarget(r.method, r.target)
	if err != nil {
		return nil, err
	}

	remoteAddr, remotePort := splitAddr(r.remote)
	serverAddr, serverPort := splitAddr(r.local)

	env := make(wsgi.Environ, len(r.headers)+20)
	for key, value := range r.headers {
		env[key] = value
	}

	env[wsgi.KeyProtocol] = r.protocol
	env[wsgi.KeyConnectionID] = r.id
	env[wsgi.KeyVersion] = wsgi.Version
	env[wsgi.KeyURLScheme] = r.scheme
	env[wsgi.KeyInput] = r.input
	env[wsgi.KeyErrors] = r.errors
	env[wsgi.KeyMultithread] = false
	env[wsgi.KeyMultiprocess] = false
	env[wsgi.KeyRunOnce] = true
	env[wsgi.KeyRequestMethod] = r.method
	env[wsgi.KeyScriptName] = ""
	env[wsgi.KeyPathInfo] = path
	env[wsgi.KeyQueryString] = query
	env[wsgi.KeyContentType] = r.headers[wsgi.KeyContentType]
	env[wsgi.KeyContentLength] = r.headers[wsgi.KeyContentLength]
	env[wsgi.KeyRemoteAddr] = remoteAddr
	env[wsgi.KeyRemotePort] = remotePort
	env[wsgi.KeyServerName] = serverAddr
	env[wsgi.KeyServerPort] = serverPort
	env[wsgi.KeyServerProtocol] = ""

	if len(host) > 0 {
		env[wsgi.KeyHost] = host
	}

	return env, nil
}

// splitTarget decodes the request target. The host is set only for absolute targets
// and CONNECT's authority.
func splitTarget(method, target string) (path, query, host string, err error) {
	switch {
	case method == "CONNECT":
		return "", "", target, nil
	case target == "*":
		return target, "", "", nil
	}

	u, err := url.ParseRequestURI(target)
	if err == nil {
		return u.Path, u.RawQuery, u.Host, nil
	}

	if !strings.HasPrefix(target, "/") {
		return "", "", "", err
	}

	// malformed escapes in an origin-form target are left as they are
	path, query, _ = strings.Cut(target, "?")
	return unquote(path), query, "", nil
}

// unquote decodes valid percent-escapes, passing the invalid ones through.
func unquote(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			if c, err := hex.DecodeString(s[i+1 : i+3]); err == nil {
				b.WriteByte(c[0])
				i += 2
				continue
			}
		}

		b.WriteByte(s[i])
	}

	return b.String()
}

func splitAddr(addr net.Addr) (host, port string) {
	if addr == nil {
		return "", ""
	}

	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), ""
	}

	return host, port
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}

	return addr.String()
}

// logWriter is the application's error stream: every written line becomes a warning.
type logWriter struct {
	logger *zap.Logger
}

func (l logWriter) Write(p []byte) (int, error) {
	for _, line := range bytes.Split(bytes.TrimRight(p, "\n"), []byte("\n")) {
		if len(line) > 0 {
			l.logger.Warn("application error stream", zap.ByteString("line", line))
		}
	}

	return len(p), nil
}

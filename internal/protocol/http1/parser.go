package http1

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/indigo-web/awsgi/config"
	"github.com/indigo-web/awsgi/http/status"
	"github.com/indigo-web/awsgi/internal/buffer"
	"github.com/indigo-web/chunkedbody"
	"github.com/indigo-web/utils/strcomp"
	"github.com/indigo-web/utils/uf"
)

// ErrUpgrade is returned by Feed when the request asks to switch protocols. It isn't
// a failure: every byte following the request head belongs to the new protocol and is
// returned as extra.
var ErrUpgrade = errors.New("connection upgrade requested")

// Handler receives the parsing events in the order they occur.
type Handler interface {
	// OnURL receives the raw request target.
	OnURL(url []byte)
	// OnHeader receives every header field in order of appearance. Both slices stay
	// valid for the parser's whole lifetime.
	OnHeader(name, value []byte)
	// OnHeadersComplete is called once the request head is over. A non-nil error
	// stops the parsing and is returned from Feed as is.
	OnHeadersComplete() error
	// OnBody receives the de-framed body pieces. The slice must not be retained.
	OnBody(piece []byte) error
	OnMessageComplete()
}

type parserState uint8

const (
	eMethod parserState = iota + 1
	eTarget
	eProtocol
	eHeaderKey
	eHeaderValue
	eHeadersEndLF
	eBody
	eChunked
	eDone
	eUpgraded
)

// Parser is an incremental HTTP/1.x request parser. It may be fed with arbitrary
// pieces of the stream; the produced events don't depend on where the stream was
// split. A single Parser handles a single request.
type Parser struct {
	state         parserState
	handler       Handler
	requestLine   *buffer.Buffer
	headers       *buffer.Buffer
	chunked       *chunkedbody.Parser
	maxHeaders    int
	headersNumber int
	key           []byte
	method        string
	contentLength int64
	bodyLeft      int64
	isChunked     bool
	hasTrailer    bool
	hasUpgrade    bool
	connUpgrade   bool
	metTE         bool
}

func NewParser(cfg *config.Config, handler Handler) *Parser {
	return &Parser{
		state:         eMethod,
		handler:       handler,
		requestLine:   buffer.New(256, cfg.Headers.RequestLineSize.Maximal),
		headers:       buffer.New(1024, cfg.Headers.Space.Maximal),
		maxHeaders:    cfg.Headers.Number.Maximal,
		contentLength: -1,
	}
}

// Feed consumes data. Once the message is complete, the bytes following it are
// returned as extra; further calls return their data back untouched. After ErrUpgrade
// was returned, every further call returns ErrUpgrade again.
func (p *Parser) Feed(data []byte) (extra []byte, err error) {
	requestLine := p.requestLine
	headers := p.headers

	switch p.state {
	case eMethod:
		goto method
	case eTarget:
		goto target
	case eProtocol:
		goto protocol
	case eHeaderKey:
		goto headerKey
	case eHeaderValue:
		goto headerValue
	case eHeadersEndLF:
		goto headersEndLF
	case eBody:
		goto body
	case eChunked:
		goto chunked
	case eDone:
		return data, nil
	case eUpgraded:
		return data, ErrUpgrade
	default:
		panic("unreachable code")
	}

method:
	{
		sp := bytes.IndexByte(data, ' ')
		if sp == -1 {
			if !requestLine.Append(data) {
				return nil, status.ErrTooLongRequestLine
			}

			p.state = eMethod
			return nil, nil
		}

		if !requestLine.Append(data[:sp]) {
			return nil, status.ErrTooLongRequestLine
		}

		method := requestLine.Finish()
		if !isToken(method) {
			return nil, status.ErrBadRequest
		}

		p.method = uf.B2S(method)
		data = data[sp+1:]
		// fallthrough to target
	}

target:
	{
		sp := bytes.IndexByte(data, ' ')
		if sp == -1 {
			if !requestLine.Append(data) {
				return nil, status.ErrTooLongRequestLine
			}

			p.state = eTarget
			return nil, nil
		}

		if !requestLine.Append(data[:sp]) {
			return nil, status.ErrTooLongRequestLine
		}

		url := requestLine.Finish()
		if len(url) == 0 || hasCtl(url) {
			return nil, status.ErrBadRequest
		}

		p.handler.OnURL(url)
		data = data[sp+1:]
		// fallthrough to protocol
	}

protocol:
	{
		lf := bytes.IndexByte(data, '\n')
		if lf == -1 {
			if !requestLine.Append(data) {
				return nil, status.ErrTooLongRequestLine
			}

			p.state = eProtocol
			return nil, nil
		}

		if !requestLine.Append(data[:lf]) {
			return nil, status.ErrTooLongRequestLine
		}

		switch proto := uf.B2S(stripCR(requestLine.Finish())); proto {
		case "HTTP/1.1", "HTTP/1.0":
		default:
			if strings.HasPrefix(proto, "HTTP/") {
				return nil, status.ErrHTTPVersionNotSupported
			}

			return nil, status.ErrBadRequest
		}

		data = data[lf+1:]
		// fallthrough to headerKey
	}

headerKey:
	{
		if len(data) == 0 {
			p.state = eHeaderKey
			return nil, nil
		}

		if headers.SegmentLength() == 0 {
			switch data[0] {
			case '\n':
				data = data[1:]
				goto headersComplete
			case '\r':
				data = data[1:]
				goto headersEndLF
			case ' ', '\t':
				// obsolete line folding
				return nil, status.ErrBadRequest
			}
		}

		colon := bytes.IndexByte(data, ':')
		if colon == -1 {
			if bytes.IndexByte(data, '\n') != -1 {
				return nil, status.ErrBadRequest
			}

			if !headers.Append(data) {
				return nil, status.ErrHeaderFieldsTooLarge
			}

			p.state = eHeaderKey
			return nil, nil
		}

		if !headers.Append(data[:colon]) {
			return nil, status.ErrHeaderFieldsTooLarge
		}

		key := headers.Finish()
		if !isToken(key) {
			return nil, status.ErrBadRequest
		}

		if p.headersNumber++; p.headersNumber > p.maxHeaders {
			return nil, status.ErrTooManyHeaders
		}

		p.key = key
		data = data[colon+1:]
		// fallthrough to headerValue
	}

headerValue:
	{
		lf := bytes.IndexByte(data, '\n')
		if lf == -1 {
			if !headers.Append(data) {
				return nil, status.ErrHeaderFieldsTooLarge
			}

			p.state = eHeaderValue
			return nil, nil
		}

		if !headers.Append(data[:lf]) {
			return nil, status.ErrHeaderFieldsTooLarge
		}

		data = data[lf+1:]
		value := trimSpaces(stripCR(headers.Finish()))
		if err = p.inspect(p.key, value); err != nil {
			return nil, err
		}

		p.handler.OnHeader(p.key, value)
		goto headerKey
	}

headersEndLF:
	if len(data) == 0 {
		p.state = eHeadersEndLF
		return nil, nil
	}

	if data[0] != '\n' {
		return nil, status.ErrBadRequest
	}

	data = data[1:]
	// fallthrough to headersComplete

headersComplete:
	if p.isChunked && p.contentLength != -1 {
		// both framings at once are a request smuggling attempt
		return nil, status.ErrBadRequest
	}

	if err = p.handler.OnHeadersComplete(); err != nil {
		return nil, err
	}

	if p.Upgrade() {
		p.handler.OnMessageComplete()
		p.state = eUpgraded

		return data, ErrUpgrade
	}

	switch {
	case p.isChunked:
		p.chunked = chunkedbody.NewParser(chunkedbody.DefaultSettings())
		goto chunked
	case p.contentLength > 0:
		p.bodyLeft = p.contentLength
		goto body
	default:
		goto complete
	}

body:
	{
		if len(data) == 0 {
			p.state = eBody
			return nil, nil
		}

		n := min(int64(len(data)), p.bodyLeft)
		if err = p.handler.OnBody(data[:n]); err != nil {
			return nil, err
		}

		data = data[n:]
		if p.bodyLeft -= n; p.bodyLeft > 0 {
			p.state = eBody
			return nil, nil
		}

		goto complete
	}

chunked:
	for len(data) > 0 {
		piece, rest, perr := p.chunked.Parse(data, p.hasTrailer)
		switch perr {
		case nil, io.EOF:
		default:
			return nil, status.ErrBadChunk
		}

		if len(piece) > 0 {
			if err = p.handler.OnBody(piece); err != nil {
				return nil, err
			}
		}

		data = rest
		if perr == io.EOF {
			goto complete
		}
	}

	p.state = eChunked
	return nil, nil

complete:
	p.handler.OnMessageComplete()
	p.state = eDone

	return data, nil
}

// inspect picks up the header fields affecting the message framing.
func (p *Parser) inspect(key, value []byte) error {
	k := uf.B2S(key)

	switch len(k) {
	case 7:
		if strcomp.EqualFold(k, "Upgrade") {
			p.hasUpgrade = len(value) > 0
		} else if strcomp.EqualFold(k, "Trailer") {
			p.hasTrailer = true
		}
	case 10:
		if strcomp.EqualFold(k, "Connection") && hasToken(uf.B2S(value), "upgrade") {
			p.connUpgrade = true
		}
	case 14:
		if strcomp.EqualFold(k, "Content-Length") {
			length, ok := parseContentLength(value)
			if !ok || (p.contentLength != -1 && p.contentLength != length) {
				return status.ErrBadRequest
			}

			p.contentLength = length
		}
	case 17:
		if strcomp.EqualFold(k, "Transfer-Encoding") {
			if p.metTE {
				return status.ErrBadEncoding
			}

			p.metTE = true
			codings := strings.Split(uf.B2S(value), ",")
			if !strcomp.EqualFold(strings.TrimSpace(codings[len(codings)-1]), "chunked") {
				return status.ErrBadEncoding
			}

			p.isChunked = true
		}
	}

	return nil
}

// Method returns the request method. Valid once the request line is parsed.
func (p *Parser) Method() string {
	return p.method
}

// ContentLength returns the declared body length, or -1 if there's none.
func (p *Parser) ContentLength() int64 {
	return p.contentLength
}

// Upgrade reports whether the request asks to leave HTTP once its head is over.
func (p *Parser) Upgrade() bool {
	return p.method == "CONNECT" || (p.connUpgrade && p.hasUpgrade)
}

func parseContentLength(value []byte) (length int64, ok bool) {
	if len(value) == 0 || len(value) > 18 {
		return 0, false
	}

	for _, char := range value {
		if char < '0' || char > '9' {
			return 0, false
		}

		length = length*10 + int64(char-'0')
	}

	return length, true
}

func hasToken(value, token string) bool {
	for _, tok := range strings.Split(value, ",") {
		if strcomp.EqualFold(strings.TrimSpace(tok), token) {
			return true
		}
	}

	return false
}

func isToken(b []byte) bool {
	if len(b) == 0 {
		return false
	}

	for _, char := range b {
		if !isTokenChar(char) {
			return false
		}
	}

	return true
}

func isTokenChar(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}

	return strings.IndexByte("!#$%&'*+-.^_`|~", c) != -1
}

func hasCtl(b []byte) bool {
	for _, char := range b {
		if char < 0x21 || char == 0x7f {
			return true
		}
	}

	return false
}

func stripCR(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\r' {
		return b[:len(b)-1]
	}

	return b
}

func trimSpaces(b []byte) []byte {
	return bytes.Trim(b, " \t")
}

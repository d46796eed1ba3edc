package status

import "strconv"

// Code is an HTTP status code. Only the codes the gateway itself may emit, plus the
// ones applications commonly pass through the websocket handshake, have names here.
type Code uint16

const (
	SwitchingProtocols Code = 101 // RFC 9110, 15.2.2

	OK        Code = 200 // RFC 9110, 15.3.1
	NoContent Code = 204 // RFC 9110, 15.3.5

	BadRequest                  Code = 400 // RFC 9110, 15.5.1
	Forbidden                   Code = 403 // RFC 9110, 15.5.4
	NotFound                    Code = 404 // RFC 9110, 15.5.5
	MethodNotAllowed            Code = 405 // RFC 9110, 15.5.6
	RequestEntityTooLarge       Code = 413 // RFC 9110, 15.5.14
	RequestURITooLong           Code = 414 // RFC 9110, 15.5.15
	UpgradeRequired             Code = 426 // RFC 9110, 15.5.22
	RequestHeaderFieldsTooLarge Code = 431 // RFC 6585, 5

	InternalServerError     Code = 500 // RFC 9110, 15.6.1
	NotImplemented          Code = 501 // RFC 9110, 15.6.2
	HTTPVersionNotSupported Code = 505 // RFC 9110, 15.6.6
)

// KnownCodes lists every named code.
var KnownCodes = []Code{
	SwitchingProtocols, OK, NoContent, BadRequest, Forbidden, NotFound, MethodNotAllowed,
	RequestEntityTooLarge, RequestURITooLong, UpgradeRequired, RequestHeaderFieldsTooLarge,
	InternalServerError, NotImplemented, HTTPVersionNotSupported,
}

// Text returns a reason phrase for the code. Unknown codes yield an empty string.
func Text(code Code) string {
	switch code {
	case SwitchingProtocols:
		return "Switching Protocols"
	case OK:
		return "OK"
	case NoContent:
		return "No Content"
	case BadRequest:
		return "Bad Request"
	case Forbidden:
		return "Forbidden"
	case NotFound:
		return "Not Found"
	case MethodNotAllowed:
		return "Method Not Allowed"
	case RequestEntityTooLarge:
		return "Request Entity Too Large"
	case RequestURITooLong:
		return "Request URI Too Long"
	case UpgradeRequired:
		return "Upgrade Required"
	case RequestHeaderFieldsTooLarge:
		return "Request Header Fields Too Large"
	case InternalServerError:
		return "Internal Server Error"
	case NotImplemented:
		return "Not Implemented"
	case HTTPVersionNotSupported:
		return "HTTP Version Not Supported"
	}

	return ""
}

// Line renders the code the way it is passed to a start-response callback, e.g.
// "101 Switching Protocols". Codes without a known reason phrase are rendered
// as a bare number.
func Line(code Code) string {
	text := Text(code)
	if len(text) == 0 {
		return strconv.Itoa(int(code))
	}

	return strconv.Itoa(int(code)) + " " + text
}

// Parse extracts the numeric code from a status line like "200 OK". Zero is
// returned if the line doesn't begin with a three-digit code.
func Parse(line string) Code {
	if len(line) < 3 {
		return 0
	}

	var code Code
	for i := 0; i < 3; i++ {
		char := line[i]
		if char < '0' || char > '9' {
			return 0
		}

		code = code*10 + Code(char-'0')
	}

	if len(line) > 3 && line[3] != ' ' {
		return 0
	}

	return code
}

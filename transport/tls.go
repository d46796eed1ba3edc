package transport

import (
	"crypto/tls"
	"net"
)

// TLS serves HTTPS. Handshakes happen lazily, on the first read or write of an
// accepted connection, so a slow client never holds the accept loop.
type TLS struct {
	TCP
	cfg *tls.Config
}

// NewTLS returns a TLS transport. The config must provide certificates, either directly
// or via GetCertificate.
func NewTLS(cfg *tls.Config) *TLS {
	return &TLS{
		TCP: TCP{scheme: "https"},
		cfg: cfg,
	}
}

func (t *TLS) Bind(addr string) error {
	l, err := bindTCP(addr)
	if err != nil {
		return err
	}

	t.l = tlsListener{TCPListener: l, cfg: t.cfg}

	return nil
}

// tlsListener keeps the deadline control of the underlying TCP listener.
type tlsListener struct {
	*net.TCPListener
	cfg *tls.Config
}

func (l tlsListener) Accept() (net.Conn, error) {
	conn, err := l.TCPListener.Accept()
	if err != nil {
		return nil, err
	}

	return tls.Server(conn, l.cfg), nil
}

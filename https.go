package awsgi

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/indigo-web/awsgi/transport"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"
)

// TLS adds an HTTPS listener using the config as is.
func (a *App) TLS(addr string, cfg *tls.Config) *App {
	return a.listen(addr, func() (transport.Transport, error) {
		return transport.NewTLS(cfg), nil
	})
}

// HTTPS adds an HTTPS listener serving the certificate from the files.
func (a *App) HTTPS(addr, cert, key string) *App {
	return a.listen(addr, func() (transport.Transport, error) {
		certificate, err := tls.LoadX509KeyPair(cert, key)
		if err != nil {
			return nil, err
		}

		return transport.NewTLS(&tls.Config{
			Certificates: []tls.Certificate{certificate},
		}), nil
	})
}

// AutoHTTPS adds an HTTPS listener obtaining certificates for the domains via ACME.
// Listeners on localhost get a self-signed certificate instead.
func (a *App) AutoHTTPS(addr string, domains ...string) *App {
	return a.listen(addr, func() (transport.Transport, error) {
		if isLocalhost(addr) {
			certificate, err := selfSigned()
			if err != nil {
				return nil, err
			}

			return transport.NewTLS(&tls.Config{
				Certificates: []tls.Certificate{certificate},
			}), nil
		}

		m := &autocert.Manager{
			Prompt: autocert.AcceptTOS,
		}

		if len(domains) > 0 {
			m.HostPolicy = autocert.HostWhitelist(domains...)
		}

		if dir, err := a.certCache(); err != nil {
			a.logger.Warn("auto HTTPS: not using a certificate cache", zap.Error(err))
		} else {
			m.Cache = autocert.DirCache(dir)
		}

		return transport.NewTLS(m.TLSConfig()), nil
	})
}

func (a *App) certCache() (string, error) {
	dir := a.cfg.TLS.CacheDir
	if len(dir) == 0 {
		base, err := os.UserCacheDir()
		if err != nil {
			return "", err
		}

		dir = filepath.Join(base, "awsgi-autocert")
	}

	return dir, os.MkdirAll(dir, 0700)
}

func isLocalhost(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}

	if host == "localhost" {
		return true
	}

	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// selfSigned generates a certificate valid for the loopback addresses. It lives in
// memory only.
func selfSigned() (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return tls.Certificate{}, err
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"awsgi localhost"}},
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}, nil
}

package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/mandelsoft/vfs/pkg/vfs"
)

// DefaultTLSConfig returns the TLS settings shared by the server and client.
func DefaultTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		// Only use curves which have constant-time implementations.
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
	}
}

// ServerTLSConfig returns a TLS configuration for the listener that presents
// the certificate in certFile and keyFile, and requires clients to present a
// certificate signed by the CA in caFile.
func ServerTLSConfig(fs vfs.FileSystem, certFile, keyFile, caFile string) (*tls.Config, error) {
	cert, err := LoadKeyPair(fs, certFile, keyFile)
	if err != nil {
		return nil, err
	}
	pool, err := LoadCertPool(fs, caFile)
	if err != nil {
		return nil, err
	}

	cfg := DefaultTLSConfig()
	cfg.Certificates = []tls.Certificate{cert}
	cfg.ClientCAs = pool
	cfg.ClientAuth = tls.RequireAndVerifyClientCert

	return cfg, nil
}

// ClientTLSConfig returns a TLS configuration for connecting to serverName
// with the client certificate in certFile and keyFile. The server certificate
// is verified against the CA in caFile.
func ClientTLSConfig(fs vfs.FileSystem, certFile, keyFile, caFile, serverName string) (*tls.Config, error) {
	cert, err := LoadKeyPair(fs, certFile, keyFile)
	if err != nil {
		return nil, err
	}
	pool, err := LoadCertPool(fs, caFile)
	if err != nil {
		return nil, err
	}

	cfg := DefaultTLSConfig()
	cfg.Certificates = []tls.Certificate{cert}
	cfg.RootCAs = pool
	cfg.ServerName = serverName

	return cfg, nil
}

// LoadKeyPair reads a PEM encoded certificate and private key from fs.
func LoadKeyPair(fs vfs.FileSystem, certFile, keyFile string) (tls.Certificate, error) {
	certPEM, err := vfs.ReadFile(fs, certFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed reading certificate file: %w", err)
	}
	keyPEM, err := vfs.ReadFile(fs, keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed reading private key file: %w", err)
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed loading key pair: %w", err)
	}

	return cert, nil
}

// LoadCertPool reads the PEM encoded CA certificates in caFile from fs.
func LoadCertPool(fs vfs.FileSystem, caFile string) (*x509.CertPool, error) {
	data, err := vfs.ReadFile(fs, caFile)
	if err != nil {
		return nil, fmt.Errorf("failed reading CA certificate file: %w", err)
	}

	certs, err := ParseCertificatesPEM(data)
	if err != nil {
		return nil, err
	}

	pool := x509.NewCertPool()
	for _, c := range certs {
		pool.AddCert(c)
	}

	return pool, nil
}

// ParseCertificatesPEM parses all CERTIFICATE blocks in data. It returns an
// error if data doesn't contain at least one valid certificate.
func ParseCertificatesPEM(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}

		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed parsing X.509 certificate: %w", err)
		}
		certs = append(certs, cert)
	}

	if len(certs) == 0 {
		return nil, errors.New("no PEM encoded certificate found")
	}

	return certs, nil
}

// ParsePrivateKeyPEM parses the first private key block in data. PKCS #8,
// PKCS #1 and SEC 1 encodings are supported.
func ParsePrivateKeyPEM(data []byte) (crypto.Signer, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if !strings.HasSuffix(block.Type, "PRIVATE KEY") {
			continue
		}

		if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
			switch k := key.(type) {
			case *rsa.PrivateKey:
				return k, nil
			case *ecdsa.PrivateKey:
				return k, nil
			case ed25519.PrivateKey:
				return k, nil
			}
			return nil, fmt.Errorf("unsupported private key type %T", key)
		}
		if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
			return key, nil
		}
		if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
			return key, nil
		}

		return nil, errors.New("failed parsing private key")
	}

	return nil, errors.New("no PEM encoded private key found")
}

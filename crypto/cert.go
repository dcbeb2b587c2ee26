package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"path/filepath"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"
)

// CertKind is the role a generated certificate is used for.
type CertKind int

// Certificate roles.
const (
	CertCA CertKind = iota
	CertServer
	CertClient
)

// Issuer is a CA certificate and its private key, used for signing server and
// client certificates.
type Issuer struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
}

// NewCert creates an X.509 v3 certificate of the given kind with a new ECDSA
// P-256 key. hosts are added as IP or DNS Subject Alternative Names. CA
// certificates are self-signed, and all other kinds require an issuer.
func NewCert(
	kind CertKind, commonName string, hosts []string, expiration time.Time, issuer *Issuer,
) (*x509.Certificate, *ecdsa.PrivateKey, error) {
	if kind != CertCA && issuer == nil {
		return nil, nil, errors.New("an issuer is required for non-CA certificates")
	}

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed generating serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"openme"},
			CommonName:   commonName,
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              expiration,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}

	switch kind {
	case CertCA:
		template.IsCA = true
		template.KeyUsage |= x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	case CertServer:
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	case CertClient:
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	}

	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed generating ECDSA key: %w", err)
	}

	parent, signer := template, key
	if issuer != nil {
		parent, signer = issuer.Cert, issuer.Key
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, parent, &key.PublicKey, signer)
	if err != nil {
		return nil, nil, fmt.Errorf("failed creating X.509 certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, nil, fmt.Errorf("failed parsing X.509 certificate from ASN.1 DER data: %w", err)
	}

	return cert, key, nil
}

// EncodeCertPEM returns the PEM encoding of cert.
func EncodeCertPEM(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}

// EncodeKeyPEM returns the PKCS #8 PEM encoding of key.
func EncodeKeyPEM(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed encoding private key: %w", err)
	}
	var buf bytes.Buffer
	if err = pem.Encode(&buf, &pem.Block{Type: "PRIVATE KEY", Bytes: der}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PKIFiles are the paths of a generated set of certificates.
type PKIFiles struct {
	CACert     string
	ServerCert string
	ServerKey  string
	ClientCert string
	ClientKey  string
}

// PKIOptions configure GeneratePKI.
type PKIOptions struct {
	// Hosts are the server names and addresses clients will connect to.
	Hosts      []string
	ClientName string
	Expiration time.Time
}

// GeneratePKI creates a CA, a server and a client certificate, and writes
// them PEM encoded into dir on fs. Private keys are written with 0600
// permissions. The CA private key is not persisted.
func GeneratePKI(fs vfs.FileSystem, dir string, opts PKIOptions) (PKIFiles, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return PKIFiles{}, fmt.Errorf("failed creating directory: %w", err)
	}

	caCert, caKey, err := NewCert(CertCA, "openme CA", nil, opts.Expiration, nil)
	if err != nil {
		return PKIFiles{}, fmt.Errorf("failed creating CA certificate: %w", err)
	}
	issuer := &Issuer{Cert: caCert, Key: caKey}

	srvCert, srvKey, err := NewCert(CertServer, "openme server", opts.Hosts, opts.Expiration, issuer)
	if err != nil {
		return PKIFiles{}, fmt.Errorf("failed creating server certificate: %w", err)
	}

	cliCert, cliKey, err := NewCert(CertClient, opts.ClientName, nil, opts.Expiration, issuer)
	if err != nil {
		return PKIFiles{}, fmt.Errorf("failed creating client certificate: %w", err)
	}

	files := PKIFiles{
		CACert:     filepath.Join(dir, "ca.crt"),
		ServerCert: filepath.Join(dir, "server.crt"),
		ServerKey:  filepath.Join(dir, "server.key"),
		ClientCert: filepath.Join(dir, "client.crt"),
		ClientKey:  filepath.Join(dir, "client.key"),
	}

	for _, c := range []struct {
		path string
		cert *x509.Certificate
		key  *ecdsa.PrivateKey
		kp   string
	}{
		{path: files.CACert, cert: caCert},
		{path: files.ServerCert, cert: srvCert, key: srvKey, kp: files.ServerKey},
		{path: files.ClientCert, cert: cliCert, key: cliKey, kp: files.ClientKey},
	} {
		if err = vfs.WriteFile(fs, c.path, EncodeCertPEM(c.cert), 0o644); err != nil {
			return PKIFiles{}, fmt.Errorf("failed writing certificate: %w", err)
		}
		if c.key == nil {
			continue
		}
		keyPEM, err := EncodeKeyPEM(c.key)
		if err != nil {
			return PKIFiles{}, err
		}
		if err = vfs.WriteFile(fs, c.kp, keyPEM, 0o600); err != nil {
			return PKIFiles{}, fmt.Errorf("failed writing private key: %w", err)
		}
	}

	return files, nil
}

package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/mandelsoft/vfs/pkg/vfs"

	"go.hackfix.me/openme/crypto"
	"go.hackfix.me/openme/firewall"
	ftypes "go.hackfix.me/openme/firewall/types"
)

// FieldError is returned for an invalid configuration field.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// Validate checks every configuration field, and returns a *FieldError for the
// first invalid one. Certificate and key files are read from fs.
func (c Config) Validate(fs vfs.FileSystem) error {
	if _, err := firewall.ParseIPv4(c.BindAddress); err != nil {
		return &FieldError{Field: "BIND_ADDRESS", Err: err}
	}

	if !ftypes.ValidPort(c.ListeningPort) {
		return &FieldError{
			Field: "LISTENING_PORT",
			Err:   fmt.Errorf("%w: %d", ftypes.ErrInvalidPort, c.ListeningPort),
		}
	}

	if len(c.Ports) == 0 {
		return &FieldError{Field: "PORTS", Err: errors.New("at least one port is required")}
	}
	if _, err := c.PortSpecs(); err != nil {
		return err
	}

	if err := validateFile(fs, "CERT_FILE", c.CertFile, checkCertificate); err != nil {
		return err
	}
	if err := validateFile(fs, "KEY_FILE", c.KeyFile, checkPrivateKey); err != nil {
		return err
	}
	if err := validateFile(fs, "CA_CERT_FILE", c.CACertFile, checkCertificate); err != nil {
		return err
	}

	if _, err := c.FirewallType(); err != nil {
		return err
	}

	if c.ReadTimeout <= 0 {
		return &FieldError{Field: "READ_TIMEOUT", Err: errors.New("must be greater than 0")}
	}

	if _, err := c.AllowedSet(); err != nil {
		return err
	}

	if c.MetricsAddress != "" {
		if err := validateHostPort(c.MetricsAddress); err != nil {
			return &FieldError{Field: "METRICS_ADDRESS", Err: err}
		}
	}

	return nil
}

func validateFile(fs vfs.FileSystem, field, path string, check func([]byte) error) error {
	if path == "" {
		return &FieldError{Field: field, Err: errors.New("path is empty")}
	}

	data, err := vfs.ReadFile(fs, path)
	if err != nil {
		if vfs.IsErrNotExist(err) {
			err = fmt.Errorf("file '%s' doesn't exist", path)
		}
		return &FieldError{Field: field, Err: err}
	}

	if err = check(data); err != nil {
		return &FieldError{Field: field, Err: fmt.Errorf("file '%s': %w", path, err)}
	}

	return nil
}

func checkCertificate(data []byte) error {
	_, err := crypto.ParseCertificatesPEM(data)
	return err
}

func checkPrivateKey(data []byte) error {
	_, err := crypto.ParsePrivateKeyPEM(data)
	return err
}

func validateHostPort(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	p, err := strconv.Atoi(port)
	if err != nil || !ftypes.ValidPort(p) {
		return fmt.Errorf("%w: '%s'", ftypes.ErrInvalidPort, port)
	}
	return nil
}

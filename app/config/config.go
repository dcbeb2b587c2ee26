package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"
	"go4.org/netipx"
	"gopkg.in/yaml.v3"

	"go.hackfix.me/openme/firewall"
	ftypes "go.hackfix.me/openme/firewall/types"
	"go.hackfix.me/openme/xtime"
)

// DefaultPath is the configuration file read if no other path is specified.
const DefaultPath = "/etc/openme/config.yaml"

// Default configuration values.
const (
	DefaultBindAddress   = "0.0.0.0"
	DefaultListeningPort = 54154
	DefaultCertFile      = "/etc/openme/server.crt"
	DefaultKeyFile       = "/etc/openme/server.key"
	DefaultCACertFile    = "/etc/openme/ca.crt"
	DefaultFirewall      = ftypes.FirewallIPTables
	DefaultReadTimeout   = 10 * time.Second
)

// Port is a configured destination port and protocol pair.
type Port struct {
	Port     int    `yaml:"port"`
	Protocol string `yaml:"protocol"`
}

// Config is the runtime configuration of the daemon. It is created once by
// Load, and must not be modified afterwards.
type Config struct {
	BindAddress     string
	ListeningPort   int
	Ports           []Port
	CertFile        string
	KeyFile         string
	CACertFile      string
	Debug           bool
	Firewall        string
	ReadTimeout     time.Duration
	AllowedNetworks []string
	MetricsAddress  string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		BindAddress:   DefaultBindAddress,
		ListeningPort: DefaultListeningPort,
		Ports: []Port{
			{Port: 80, Protocol: "tcp"},
			{Port: 443, Protocol: "tcp"},
		},
		CertFile:    DefaultCertFile,
		KeyFile:     DefaultKeyFile,
		CACertFile:  DefaultCACertFile,
		Firewall:    string(DefaultFirewall),
		ReadTimeout: DefaultReadTimeout,
	}
}

// fileConfig is the configuration file format. Fields that are present in the
// file replace the default value as a whole.
type fileConfig struct {
	BindAddress     *string   `yaml:"BIND_ADDRESS"`
	ListeningPort   *int      `yaml:"LISTENING_PORT"`
	Ports           *[]Port   `yaml:"PORTS"`
	CertFile        *string   `yaml:"CERT_FILE"`
	KeyFile         *string   `yaml:"KEY_FILE"`
	CACertFile      *string   `yaml:"CA_CERT_FILE"`
	Debug           *bool     `yaml:"DEBUG"`
	Firewall        *string   `yaml:"FIREWALL"`
	ReadTimeout     *string   `yaml:"READ_TIMEOUT"`
	AllowedNetworks *[]string `yaml:"ALLOWED_NETWORKS"`
	MetricsAddress  *string   `yaml:"METRICS_ADDRESS"`
}

// Load reads the configuration file at path from fs, and merges it over the
// default configuration. If the file doesn't exist or is empty, the default
// configuration is returned. The returned value is not validated.
func Load(fs vfs.FileSystem, path string) (Config, error) {
	data, err := vfs.ReadFile(fs, path)
	if err != nil && !vfs.IsErrNotExist(err) {
		return Config{}, fmt.Errorf("failed reading configuration file: %w", err)
	}

	return Parse(data)
}

// Parse merges the YAML configuration data over the default configuration.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed parsing configuration file: %w", err)
	}

	if fc.BindAddress != nil {
		cfg.BindAddress = *fc.BindAddress
	}
	if fc.ListeningPort != nil {
		cfg.ListeningPort = *fc.ListeningPort
	}
	if fc.Ports != nil {
		cfg.Ports = *fc.Ports
	}
	if fc.CertFile != nil {
		cfg.CertFile = *fc.CertFile
	}
	if fc.KeyFile != nil {
		cfg.KeyFile = *fc.KeyFile
	}
	if fc.CACertFile != nil {
		cfg.CACertFile = *fc.CACertFile
	}
	if fc.Debug != nil {
		cfg.Debug = *fc.Debug
	}
	if fc.Firewall != nil {
		cfg.Firewall = *fc.Firewall
	}
	if fc.ReadTimeout != nil {
		dur, err := xtime.ParseDuration(*fc.ReadTimeout)
		if err != nil {
			return Config{}, &FieldError{Field: "READ_TIMEOUT", Err: err}
		}
		cfg.ReadTimeout = dur
	}
	if fc.AllowedNetworks != nil {
		cfg.AllowedNetworks = *fc.AllowedNetworks
	}
	if fc.MetricsAddress != nil {
		cfg.MetricsAddress = *fc.MetricsAddress
	}

	return cfg, nil
}

// PortSpecs returns the configured ports as validated port specifications.
func (c Config) PortSpecs() ([]ftypes.PortSpec, error) {
	specs := make([]ftypes.PortSpec, 0, len(c.Ports))
	for i, p := range c.Ports {
		ps, err := ftypes.NewPortSpec(p.Port, p.Protocol)
		if err != nil {
			return nil, &FieldError{Field: fmt.Sprintf("PORTS[%d]", i), Err: err}
		}
		specs = append(specs, ps)
	}
	return specs, nil
}

// FirewallType returns the configured firewall type.
func (c Config) FirewallType() (ftypes.FirewallType, error) {
	ft, err := ftypes.FirewallTypeFromString(c.Firewall)
	if err != nil {
		return "", &FieldError{Field: "FIREWALL", Err: err}
	}
	return ft, nil
}

// AllowedSet returns the set of addresses that OPEN and MEOPEN commands may
// target. It returns nil if no restriction is configured.
func (c Config) AllowedSet() (*netipx.IPSet, error) {
	if len(c.AllowedNetworks) == 0 {
		return nil, nil //nolint:nilnil // No restriction.
	}
	set, err := firewall.ParseToIPSet(c.AllowedNetworks...)
	if err != nil {
		return nil, &FieldError{Field: "ALLOWED_NETWORKS", Err: err}
	}
	return set, nil
}

package cli

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	actx "go.hackfix.me/openme/app/context"
	"go.hackfix.me/openme/xtime"
)

// Check validates the configuration and prints the effective settings.
type Check struct{}

// Run the check command.
func (c *Check) Run(appCtx *actx.Context, g *Globals) error {
	cfg, err := loadConfig(appCtx, g.ConfigFile)
	if err != nil {
		return err
	}

	allowed := "any"
	if len(cfg.AllowedNetworks) > 0 {
		allowed = strings.Join(cfg.AllowedNetworks, ", ")
	}
	metricsAddr := "disabled"
	if cfg.MetricsAddress != "" {
		metricsAddr = cfg.MetricsAddress
	}

	settings := [][]string{
		{"Configuration", g.ConfigFile},
		{"Listen address", net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.ListeningPort))},
		{"Certificate", cfg.CertFile},
		{"Private key", cfg.KeyFile},
		{"CA certificate", cfg.CACertFile},
		{"Firewall", cfg.Firewall},
		{"Dry run", strconv.FormatBool(cfg.Debug)},
		{"Read timeout", xtime.FormatDuration(cfg.ReadTimeout, 0)},
		{"Allowed networks", allowed},
		{"Metrics address", metricsAddr},
	}
	if err = renderTable(nil, settings, appCtx.Stdout); err != nil {
		return fmt.Errorf("failed rendering table: %w", err)
	}

	fmt.Fprintln(appCtx.Stdout)

	ports, _ := cfg.PortSpecs()
	data := make([][]string, 0, len(ports))
	for _, p := range ports {
		data = append(data, []string{strconv.Itoa(int(p.Port)), string(p.Protocol)})
	}
	if err = renderTable([]string{"Port", "Protocol"}, data, appCtx.Stdout); err != nil {
		return fmt.Errorf("failed rendering table: %w", err)
	}

	return nil
}

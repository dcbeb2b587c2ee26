package cli

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	actx "go.hackfix.me/openme/app/context"
	"go.hackfix.me/openme/client"
	"go.hackfix.me/openme/crypto"
)

// RemoteFlags are the options for connecting to a remote openme server.
type RemoteFlags struct {
	Server string `kong:"short='s',default='localhost',help='Hostname or IP address of the openme server.'"`
	Port   int    `kong:"short='p',default='54154',help='Port of the openme server.'"`
	IP     string `kong:"short='i',help='IPv4 address to change access for. Defaults to the address the connection originates from.'"` //nolint:lll // Long struct tags are unavoidable.
	Cert   string `kong:"default='/etc/openme/client.crt',help='Path to the client certificate.'"`
	Key    string `kong:"default='/etc/openme/client.key',help='Path to the client private key.'"`
	CA     string `kong:"name='ca',default='/etc/openme/ca.crt',help='Path to the CA certificate that signed the server certificate.'"`

	ShowIP    bool          `kong:"name='show-ip',help='Print the public IP address of this host first.'"`
	IPService string        `kong:"default='https://api.ipify.org',help='URL of the service reporting the public IP address.'"`
	Timeout   time.Duration `kong:"type='duration',default='30s',help='Time limit for the command.'"`
}

// Open asks a remote server to open its ports.
type Open struct {
	RemoteFlags `embed:""`
}

// Run the open command.
func (c *Open) Run(appCtx *actx.Context) error {
	return c.knock(appCtx, true)
}

// Close asks a remote server to close its ports.
type Close struct {
	RemoteFlags `embed:""`
}

// Run the close command.
func (c *Close) Run(appCtx *actx.Context) error {
	return c.knock(appCtx, false)
}

func (f *RemoteFlags) knock(appCtx *actx.Context, open bool) error {
	ctx, cancel := context.WithTimeout(appCtx.Ctx, f.Timeout)
	defer cancel()

	addr := net.JoinHostPort(f.Server, strconv.Itoa(f.Port))
	tlsCfg, err := crypto.ClientTLSConfig(appCtx.FS, f.Cert, f.Key, f.CA, client.ServerName(addr))
	if err != nil {
		return err
	}

	cl := client.New(addr, tlsCfg, appCtx.Logger)

	if f.ShowIP {
		ip, err := cl.PublicIP(ctx, f.IPService)
		if err != nil {
			return err
		}
		fmt.Fprintf(appCtx.Stdout, "Public IP address: %s\n", ip)
	}

	if open {
		err = cl.Open(ctx, f.IP)
	} else {
		err = cl.Close(ctx, f.IP)
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(appCtx.Stdout, "Server response: OK")

	return nil
}

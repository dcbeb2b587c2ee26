package cli

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/mr-tron/base58"

	actx "go.hackfix.me/openme/app/context"
	"go.hackfix.me/openme/crypto"
)

// Certs generates the certificates needed for a deployment.
type Certs struct {
	Out        string    `kong:"required,short='o',help='Directory to write the certificates to.'"`
	Host       []string  `kong:"name='host',default='localhost',help='Hostname or IP address clients use to reach the server. Can be repeated.'"` //nolint:lll // Long struct tags are unavoidable.
	ClientName string    `kong:"help='Common name of the client certificate. Defaults to a random name.'"`
	Expiration time.Time `kong:"type='expiration',default='1Y',help='Validity of the certificates, as a duration or timestamp (e.g. %s).'"` //nolint:lll // Long struct tags are unavoidable.
}

// Run the certs command.
func (c *Certs) Run(appCtx *actx.Context) error {
	name := c.ClientName
	if name == "" {
		rnd := make([]byte, 6)
		if _, err := rand.Read(rnd); err != nil {
			return fmt.Errorf("failed generating client name: %w", err)
		}
		name = "client-" + base58.Encode(rnd)
	}

	files, err := crypto.GeneratePKI(appCtx.FS, c.Out, crypto.PKIOptions{
		Hosts:      c.Host,
		ClientName: name,
		Expiration: c.Expiration,
	})
	if err != nil {
		return err
	}

	appCtx.Logger.Info("generated certificates", "dir", c.Out, "client", name,
		"expiration", c.Expiration.Format(time.RFC3339))

	data := [][]string{
		{"CA certificate", files.CACert},
		{"Server certificate", files.ServerCert},
		{"Server private key", files.ServerKey},
		{"Client certificate", files.ClientCert},
		{"Client private key", files.ClientKey},
	}
	if err = renderTable(nil, data, appCtx.Stdout); err != nil {
		return fmt.Errorf("failed rendering table: %w", err)
	}

	return nil
}

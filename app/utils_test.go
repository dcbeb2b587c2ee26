package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/openme/crypto"
	ftypes "go.hackfix.me/openme/firewall/types"
)

const testConfigPath = "/etc/openme/config.yaml"

type testApp struct {
	*App
	stdout, stderr *safeBuffer
}

func newTestApp(ctx context.Context, fs vfs.FileSystem, runner ftypes.Runner) (*testApp, error) {
	stdout, stderr := newSafeBuffer(), newSafeBuffer()

	opts := []Option{
		WithContext(ctx),
		WithFDs(strings.NewReader(""), stdout, stderr),
		WithFS(fs),
		WithLogger(false),
		WithFirewallInit(false),
	}
	if runner != nil {
		opts = append(opts, WithFirewallRunner(runner))
	}

	app, err := New("openme", testConfigPath, opts...)
	if err != nil {
		return nil, err
	}

	return &testApp{App: app, stdout: stdout, stderr: stderr}, nil
}

func (ta *testApp) Run(args ...string) error {
	return ta.App.Run(args)
}

// writeTestConfig generates certificates in /etc/openme on fs, and writes a
// configuration file referencing them, followed by extra YAML lines. Extra
// lines for the certificate keys replace the generated paths.
func writeTestConfig(t *testing.T, fs vfs.FileSystem, extra ...string) {
	t.Helper()

	files, err := crypto.GeneratePKI(fs, "/etc/openme", crypto.PKIOptions{
		Hosts:      []string{"127.0.0.1", "localhost"},
		ClientName: "tester",
		Expiration: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	base := map[string]string{
		"CERT_FILE":    files.ServerCert,
		"KEY_FILE":     files.ServerKey,
		"CA_CERT_FILE": files.CACert,
	}
	lines := make([]string, 0, len(base)+len(extra))
	for _, key := range []string{"CERT_FILE", "KEY_FILE", "CA_CERT_FILE"} {
		overridden := false
		for _, e := range extra {
			if strings.HasPrefix(e, key+":") {
				overridden = true
				break
			}
		}
		if !overridden {
			lines = append(lines, fmt.Sprintf("%s: %s", key, base[key]))
		}
	}
	lines = append(lines, extra...)

	err = vfs.WriteFile(fs, testConfigPath, []byte(strings.Join(lines, "\n")+"\n"), 0o644)
	require.NoError(t, err)
}

func freePort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	return ln.Addr().(*net.TCPAddr).Port //nolint:forcetypeassert // Always a TCP listener.
}

// safeBuffer is a thread-safe buffer.
type safeBuffer struct {
	mx  sync.RWMutex
	buf *bytes.Buffer
}

var _ io.Writer = (*safeBuffer)(nil)

func newSafeBuffer() *safeBuffer {
	return &safeBuffer{buf: &bytes.Buffer{}}
}

func (b *safeBuffer) Write(p []byte) (n int, err error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mx.RLock()
	defer b.mx.RUnlock()
	return b.buf.String()
}

package context

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"

	ftypes "go.hackfix.me/openme/firewall/types"
)

// Context contains common objects used by the application. It is passed around
// the application to avoid direct dependencies on external systems, and make
// testing easier.
type Context struct {
	Ctx      context.Context // global context
	FS       vfs.FileSystem  // filesystem
	Logger   *slog.Logger    // global logger
	LogLevel *slog.LevelVar  // level of Logger, if it can be changed
	TimeNow  func() time.Time

	// FirewallRunner replaces the execution of firewall management tools if
	// set. It's used in tests.
	FirewallRunner ftypes.Runner

	// SkipFirewallInit disables the creation of the nftables table, set and
	// chain when the server starts.
	SkipFirewallInit bool

	// Standard streams
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Metadata
	Version *VersionInfo
}

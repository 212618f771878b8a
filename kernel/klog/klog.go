// Package klog is the structured-diagnostics replacement for the
// teacher's printf-style kfmt/printk: a package-level zerolog.Logger,
// initialized once at boot, with helpers that attach the structured
// fields (cluster id, CPU id, boot id) every core subsystem wants on
// every line. It stands in for ALMOS's printk/except_dmsg and carries
// no control-flow meaning — core operations must never branch on
// whether a log call succeeded.
package klog

import (
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Logger is the global kernel logger, usable before Init is called (it
// defaults to a console writer on os.Stderr so early boot messages are
// never silently dropped).
var Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

// BootID uniquely identifies one simulated boot. Init mints a fresh one
// and stamps it as a boot_id field on every line the reconfigured Logger
// writes, so overlapping simulation runs (e.g. concurrent tests) never
// cross-contaminate log correlation; the default Logger used before Init
// carries no boot_id.
var BootID = uuid.New()

// Config configures the global logger.
type Config struct {
	Level      zerolog.Level
	JSONOutput bool
	Output     io.Writer
}

// Init (re)configures the global logger and mints a fresh BootID.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(cfg.Level)
	BootID = uuid.New()
	Logger = Logger.With().Str("boot_id", BootID.String()).Logger()
}

// Cluster returns a child logger tagged with the given cluster id.
func Cluster(cid int) zerolog.Logger {
	return Logger.With().Int("cluster", cid).Logger()
}

// CPU returns a child logger tagged with the given cluster/CPU pair.
func CPU(cid, lid int) zerolog.Logger {
	return Logger.With().Int("cluster", cid).Int("cpu", lid).Logger()
}

// Module returns a child logger tagged with a subsystem name, the
// direct analogue of kernel.Error{Module: ...}.
func Module(name string) zerolog.Logger {
	return Logger.With().Str("module", name).Logger()
}

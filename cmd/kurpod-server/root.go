package main

import (
	"time"

	"github.com/spf13/cobra"
)

// version is overwritten at build time via -ldflags.
var version = "dev"

// rootCmd starts the HTTP server directly: kurpod-server has exactly
// one long-running job, so RunE runs the server rather than
// dispatching to a verb.
var rootCmd = &cobra.Command{
	Use:     "kurpod-server",
	Short:   "Self-hosted encrypted file storage with plausible deniability",
	Version: version,
	RunE:    runServe,
}

// configError and startupIOError let main map configuration failures
// and blob I/O failures to distinct exit codes, without runServe
// calling os.Exit itself.
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

type startupIOError struct{ err error }

func (e *startupIOError) Error() string { return e.err.Error() }
func (e *startupIOError) Unwrap() error { return e.err }

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.Flags()
	flags.Int("port", 8080, "HTTP listen port")
	flags.String("blob-dir", "", "directory of .kurpod blob files (directory mode)")
	flags.String("blob-file", "", "single blob file to serve (single-file mode)")
	flags.StringSlice("allowed-origins", []string{"*"}, "CORS allowed origins")
	flags.String("log-level", "info", "log level: debug, info, warn, error (env KURPOD_LOG_LEVEL)")
	flags.Duration("session-idle-timeout", 15*time.Minute, "session idle timeout")
	flags.Duration("session-absolute-timeout", 2*time.Hour, "session absolute timeout")

	rootCmd.AddCommand(initBlobCmd)
}

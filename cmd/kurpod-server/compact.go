package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"kurpod/internal/compact"
	"kurpod/internal/registry"
	"kurpod/internal/util"
)

// compactCmd runs the offline compactor directly against a blob file,
// for operators who want to reclaim space without going through the
// running server's /api/storage/compact. Progress is reported as a
// single self-overwriting console line driven by util.Timeify.
var compactCmd = &cobra.Command{
	Use:   "compact <path>",
	Short: "Rewrite a blob file, dropping chunks no longer referenced by either volume",
	Args:  cobra.ExactArgs(1),
	RunE:  runCompact,
}

var (
	compactPasswordStandard string
	compactPasswordHidden   string
	compactHasHidden        bool
)

func init() {
	flags := compactCmd.Flags()
	flags.StringVar(&compactPasswordStandard, "password-standard", "", "standard volume password (prompted if omitted)")
	flags.StringVar(&compactPasswordHidden, "password-hidden", "", "hidden volume password, if the blob has one")
	flags.BoolVar(&compactHasHidden, "hidden", false, "the blob has a hidden volume")

	rootCmd.AddCommand(compactCmd)
}

func runCompact(cmd *cobra.Command, args []string) error {
	path := args[0]

	if compactPasswordStandard == "" {
		pw, err := promptPassword("standard volume password: ")
		if err != nil {
			return &configError{err}
		}
		compactPasswordStandard = pw
	}

	var hidden *string
	if compactHasHidden {
		if compactPasswordHidden == "" {
			pw, err := promptPassword("hidden volume password: ")
			if err != nil {
				return &configError{err}
			}
			compactPasswordHidden = pw
		}
		hidden = &compactPasswordHidden
	}

	name := strings.TrimSuffix(filepath.Base(path), registry.BlobExtension)
	reporter := newConsoleReporter(cmd.OutOrStdout())

	err := compact.Run(compact.Request{
		BlobPath:         path,
		PasswordStandard: compactPasswordStandard,
		PasswordHidden:   hidden,
		Reporter:         reporter,
	})
	if err != nil {
		return &startupIOError{err}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\ncompacted %s\n", name)
	return nil
}

// consoleReporter prints a single self-overwriting progress line to
// stderr.
type consoleReporter struct {
	start time.Time
}

func newConsoleReporter(_ io.Writer) *consoleReporter {
	return &consoleReporter{start: time.Now()}
}

func (r *consoleReporter) SetProgress(fraction float64, info string) {
	elapsed := time.Since(r.start)
	fmt.Fprintf(os.Stderr, "\r%s (%s elapsed)   ", info, util.Timeify(int(elapsed.Seconds())))
}

func (r *consoleReporter) IsCancelled() bool { return false }

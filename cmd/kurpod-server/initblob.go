package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"kurpod/internal/registry"
)

// initBlobCmd is a one-shot, credential-driven operation against a
// single file, run outside the HTTP server: it turns an empty path
// into a new blob file with its standard (and optionally hidden)
// volume already keyed.
var initBlobCmd = &cobra.Command{
	Use:   "init-blob <path>",
	Short: "Create a new blob file with a standard volume, and optionally a hidden one",
	Args:  cobra.ExactArgs(1),
	RunE:  runInitBlob,
}

var (
	initPasswordStandard string
	initPasswordHidden   string
	initHasHidden        bool
)

func init() {
	flags := initBlobCmd.Flags()
	flags.StringVar(&initPasswordStandard, "password-standard", "", "standard volume password (prompted if omitted)")
	flags.StringVar(&initPasswordHidden, "password-hidden", "", "hidden volume password")
	flags.BoolVar(&initHasHidden, "hidden", false, "create a hidden volume alongside the standard one")
}

func runInitBlob(cmd *cobra.Command, args []string) error {
	path := args[0]

	if initPasswordStandard == "" {
		pw, err := promptPassword("standard volume password: ")
		if err != nil {
			return &configError{err}
		}
		initPasswordStandard = pw
	}

	var hidden *string
	if initHasHidden {
		if initPasswordHidden == "" {
			pw, err := promptPassword("hidden volume password: ")
			if err != nil {
				return &configError{err}
			}
			initPasswordHidden = pw
		}
		hidden = &initPasswordHidden
	}

	name := strings.TrimSuffix(filepath.Base(path), registry.BlobExtension)
	reg := registry.New(registry.Config{
		Mode:           registry.SingleFileMode,
		SingleFilePath: path,
		SingleFileName: name,
	}, nil)

	if err := reg.InitBlob(name, initPasswordStandard, hidden); err != nil {
		return &startupIOError{err}
	}
	reg.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", path)
	return nil
}

// promptPassword reads a password without echoing it to the terminal,
// falling back to a plain buffered read of stdin when it isn't a TTY
// (piped input in scripts).
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	if !term.IsTerminal(int(syscall.Stdin)) {
		reader := bufio.NewReader(os.Stdin)
		pw, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		return strings.TrimRight(pw, "\r\n"), nil
	}

	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

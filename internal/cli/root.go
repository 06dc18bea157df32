// Package cli implements the zpkglist command-line interface.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"
)

// buildVersion is overridden at build time via -ldflags "-X ...buildVersion=...".
var buildVersion = "dev"

// Exit codes for the CLI surface (§6): 0 success, 2 usage error, 128
// operational failure.
const (
	ExitSuccess = 0
	ExitUsage   = 2
	ExitFailure = 128
)

// Root defines global CLI flags.
type Root struct{}

// CmdVersion prints build metadata.
type CmdVersion struct{}

// Execute runs the version command.
func (c *CmdVersion) Execute(args []string) error {
	fmt.Printf("zpkglist %s\n", buildVersion)
	return nil
}

// CommandError wraps an error raised while a command executed (as
// opposed to one raised while parsing arguments), so Run's caller can
// tell a usage error (exit 2) from an operational failure (exit 128).
type CommandError struct{ Err error }

func (e *CommandError) Error() string { return e.Err.Error() }
func (e *CommandError) Unwrap() error { return e.Err }

// Run parses arguments and executes the selected command.
func Run(args []string) error {
	var root Root

	parser := flags.NewParser(&root, flags.Default)
	parser.Name = filepath.Base(os.Args[0])
	prog := parser.Name

	if _, err := parser.AddCommand(
		"compress",
		"Compress a stream of RPM header blobs into a zpkglist file",
		fmt.Sprintf(
			`Read a concatenated stream of RPM header blobs and write the zpkglist container format.

Examples:
  %s compress packages.hdrlist packages.zpkglist
  %s compress -x packages.hdrlist packages.zpkglist`,
			prog, prog,
		),
		&CmdCompress{},
	); err != nil {
		return err
	}

	if _, err := parser.AddCommand(
		"decompress",
		"Decompress a zpkglist (or raw/zstd/xz) stream of RPM header blobs",
		fmt.Sprintf(
			`Auto-detect and decompress a container of RPM header blobs, writing the
decoded blob stream to stdout or the given output file.

Examples:
  %s decompress packages.zpkglist
  %s decompress --view --print-content-size packages.zpkglist`,
			prog, prog,
		),
		&CmdDecompress{},
	); err != nil {
		return err
	}

	if _, err := parser.AddCommand(
		"version",
		"Print build metadata",
		fmt.Sprintf("Show build information.\n\nExamples:\n  %s version", prog),
		&CmdVersion{},
	); err != nil {
		return err
	}

	_, err := parser.ParseArgs(args)
	if err != nil {
		if fe, ok := err.(*flags.Error); ok && fe.Type == flags.ErrHelp {
			return nil
		}
		return err
	}
	return nil
}

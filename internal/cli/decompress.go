package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/zpkglist/zpkglist"
	"github.com/zpkglist/zpkglist/internal/rpmhdr"
)

// ErrQueryFormatUnsupported is returned when --qf is given: RPM header
// field formatting is a librpm concern external to this codec.
var ErrQueryFormatUnsupported = errors.New("--qf: RPM query-format rendering is not supported by this tool")

// CmdDecompress implements the "decompress" subcommand: auto-detect and
// decompress a zpkglist (or raw/zstd/xz) stream of RPM header blobs.
type CmdDecompress struct {
	Decompress       bool   `short:"d" long:"decompress" description:"Decompress (always true for this subcommand; accepted for CLI-surface compatibility)"`
	Malloc           bool   `long:"malloc" description:"Read blob-by-blob via the owned-copy discipline instead of bulk bytes"`
	View             bool   `long:"view" description:"Read blob-by-blob via the borrowed-view discipline instead of bulk bytes"`
	QueryFormat      string `long:"qf" description:"RPM query-format string (unsupported; rejected)"`
	PrintContentSize bool   `long:"print-content-size" description:"Print the declared content size before decoding"`

	Args struct {
		Input  string `positional-arg-name:"input" description:"Input file; use - for stdin" required:"yes"`
		Output string `positional-arg-name:"output" description:"Output file; default stdout"`
	} `positional-args:"yes"`
}

// Execute runs the decompress command.
func (c *CmdDecompress) Execute(args []string) error {
	if c.QueryFormat != "" {
		return ErrQueryFormatUnsupported
	}
	if c.Malloc && c.View {
		return fmt.Errorf("--malloc and --view are mutually exclusive")
	}

	in := os.Stdin
	if c.Args.Input != "-" {
		f, err := os.Open(c.Args.Input)
		if err != nil {
			return &CommandError{fmt.Errorf("opening input: %w", err)}
		}
		defer f.Close()
		in = f
	}

	out := io.Writer(os.Stdout)
	if c.Args.Output != "" {
		f, err := os.Create(c.Args.Output)
		if err != nil {
			return &CommandError{fmt.Errorf("opening output: %w", err)}
		}
		defer f.Close()
		out = f
	}

	h, err := zpkglist.Open(in)
	if err != nil {
		return &CommandError{fmt.Errorf("open: %w", err)}
	}
	defer h.Close()

	if c.PrintContentSize {
		fmt.Fprintf(os.Stderr, "contentSize=%d\n", h.ContentSize())
	}

	switch {
	case c.Malloc:
		return decodeBlobs(out, h.NextMalloc)
	case c.View:
		return decodeBlobs(out, h.NextView)
	default:
		_, err := io.Copy(out, readerFunc(h.Read))
		if err != nil {
			return &CommandError{fmt.Errorf("decompress: %w", err)}
		}
		return nil
	}
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

func decodeBlobs(out io.Writer, next func() ([]byte, int64, error)) error {
	for {
		blob, _, err := next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return &CommandError{fmt.Errorf("decompress: %w", err)}
		}
		// blob is the body only; put back the magic the bulk path keeps.
		if _, err := out.Write(rpmhdr.Magic[:]); err != nil {
			return &CommandError{fmt.Errorf("writing output: %w", err)}
		}
		if _, err := out.Write(blob); err != nil {
			return &CommandError{fmt.Errorf("writing output: %w", err)}
		}
	}
}

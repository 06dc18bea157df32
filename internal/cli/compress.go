package cli

import (
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/zpkglist/zpkglist"
)

// CmdCompress implements the "compress" subcommand: read a concatenated
// stream of RPM header blobs and write the zpkglist container format.
type CmdCompress struct {
	Force       bool `short:"f" long:"force" description:"Overwrite an existing output file"`
	PrintXXHash bool `short:"x" long:"xxhash" description:"Print the xxhash64 of the uncompressed blob stream after writing"`

	Args struct {
		Input  string `positional-arg-name:"input" description:"Input file (blob stream); use - for stdin" required:"yes"`
		Output string `positional-arg-name:"output" description:"Output zpkglist file" required:"yes"`
	} `positional-args:"yes" required:"yes"`
}

// Execute runs the compress command.
func (c *CmdCompress) Execute(args []string) error {
	in := os.Stdin
	if c.Args.Input != "-" {
		f, err := os.Open(c.Args.Input)
		if err != nil {
			return &CommandError{fmt.Errorf("opening input: %w", err)}
		}
		defer f.Close()
		in = f
	}

	flags := os.O_RDWR | os.O_CREATE | os.O_TRUNC
	if !c.Force {
		flags |= os.O_EXCL
	}
	out, err := os.OpenFile(c.Args.Output, flags, 0o644)
	if err != nil {
		return &CommandError{fmt.Errorf("opening output: %w", err)}
	}
	defer out.Close()

	// compress(3)'s out_fd contract (spec §6/§7 "Usage"): out_fd must be
	// a regular file, empty, and at offset 0. The open above already
	// guarantees offset 0 for a freshly created/truncated file; check
	// the rest here, since frame.Compress only sees an io.WriteSeeker
	// and cannot stat it itself. A plain (unwrapped) error classifies
	// as a usage error (exit 2), not an operational failure.
	info, err := out.Stat()
	if err != nil {
		return &CommandError{fmt.Errorf("stat output: %w", err)}
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("output must be a regular file")
	}
	if info.Size() != 0 {
		return fmt.Errorf("output file must be empty")
	}

	var hasher *xxhash.Digest
	var hash zpkglist.HashFunc
	if c.PrintXXHash {
		hasher = xxhash.New()
		hash = func(blob []byte) { hasher.Write(blob) }
	}

	stats, err := zpkglist.Compress(in, out, hash)
	if err != nil {
		return &CommandError{fmt.Errorf("compress: %w", err)}
	}

	fmt.Printf("wrote %d blobs (%d regular, %d jumbo frames), contentSize=%d\n",
		stats.BlobCount, stats.RegularFrames, stats.JumboFrames, stats.ContentSize)
	if hasher != nil {
		fmt.Printf("xxhash64=%016x\n", hasher.Sum64())
	}
	return nil
}

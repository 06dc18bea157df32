package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCmdCompressRejectsNonEmptyOutput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	if err := os.WriteFile(in, nil, 0o644); err != nil {
		t.Fatalf("WriteFile input: %v", err)
	}
	out := filepath.Join(dir, "out")
	if err := os.WriteFile(out, []byte("not empty"), 0o644); err != nil {
		t.Fatalf("WriteFile output: %v", err)
	}

	c := &CmdCompress{Force: true}
	c.Args.Input = in
	c.Args.Output = out

	err := c.Execute(nil)
	if err == nil {
		t.Fatal("Execute accepted a non-empty output file")
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		t.Fatalf("Execute wrapped the usage error as a CommandError: %v", err)
	}
}

// Command zpkglist compresses and decompresses zpkglist package-list files.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/zpkglist/zpkglist/internal/cli"
)

func main() {
	os.Exit(run())
}

func run() int {
	err := cli.Run(os.Args[1:])
	if err == nil {
		return cli.ExitSuccess
	}

	var cmdErr *cli.CommandError
	if errors.As(err, &cmdErr) {
		fmt.Fprintf(os.Stderr, "zpkglist: %v\n", cmdErr.Unwrap())
		return cli.ExitFailure
	}

	var flagsErr *flags.Error
	if errors.As(err, &flagsErr) {
		return cli.ExitUsage
	}

	fmt.Fprintf(os.Stderr, "zpkglist: %v\n", err)
	return cli.ExitUsage
}

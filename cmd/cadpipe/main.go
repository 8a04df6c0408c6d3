package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		// Ctrl-C during a command is not worth reporting.
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "cadpipe: %v\n", err)
		}
		os.Exit(1)
	}
}

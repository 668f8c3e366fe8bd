package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/marmos91/dittomount/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		if errors.Is(err, cmd.ErrTeardown) {
			os.Exit(cmd.ExitTeardown)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

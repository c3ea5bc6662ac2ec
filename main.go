package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)

		var usage *usageError
		if errors.As(err, &usage) {
			os.Exit(2)
		}

		os.Exit(1)
	}
}

// Package main is the entry point for the Vigil detector.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/TITAN-Softwork-Solutions/Vigil/cmd"
)

func main() {
	if err := cmd.NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Package main provides the entry point for the rankfuse CLI.
package main

import (
	"fmt"
	"os"

	"github.com/Aman-CERP/rankfuse/cmd/rankfuse/cmd"
	rferrors "github.com/Aman-CERP/rankfuse/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprint(os.Stderr, rferrors.FormatForCLI(err))
		os.Exit(1)
	}
}

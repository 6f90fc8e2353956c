// Quill - Memory layer for a personal command assistant
// License: MIT
//
// Copyright (c) 2026 Quill contributors

package main

import (
	"fmt"
	"os"
)

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

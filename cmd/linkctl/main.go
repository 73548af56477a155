// File: cmd/linkctl/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// linkctl validates and runs link pipelines and inspects persisted
// statistics.

package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewManager().Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

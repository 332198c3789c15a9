package main

import (
	"fmt"
	"os"

	"github.com/austindbirch/task_sweeper/cmd/sweepctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

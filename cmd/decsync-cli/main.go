// Command decsync-cli is a thin operator tool over the decsync package:
// inspect, seed, and watch a synced directory from a shell.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

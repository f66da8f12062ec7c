// Command epist runs clinical cases through the diagnostic reasoning
// pipeline against an Ollama-compatible backend.
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

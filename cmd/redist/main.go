/*
redist runs a redistribution between in-process ranks and reports what
every destination received. It is meant for trying strategies and options
before wiring a Component into an application.
*/
package main

import (
	"fmt"
	"os"
)

func main() {
	rootCmd := newRootCommand(os.Stdin, os.Stdout, os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Command mcpmux runs the aggregating MCP proxy: one endpoint for the
// client, many MCP backends behind it.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mcpmux:", err)
		os.Exit(1)
	}
}

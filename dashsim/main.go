// Dashsim runs the dashboard refresh loop on a development machine.
//
// It loads a dashboard YAML file, polls Home Assistant with the same client
// and renderer the firmware uses, and draws an emulated VFD in the terminal.
//
// Usage:
//
//	dashsim run --config dashboard.yaml [--token TOKEN] [--once]
//	dashsim validate --config dashboard.yaml
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

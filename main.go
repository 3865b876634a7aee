// The main package for the fbmonitor executable.
package main

import (
	"github.com/bnowain/FB-Monitor/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}

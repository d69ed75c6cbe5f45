// The main package for the postrelay executable.
package main

import (
	"github.com/JakeFAU/postrelay/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}

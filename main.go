// The main package for the contestboard executable.
package main

import (
	"github.com/JakeFAU/contestboard/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}

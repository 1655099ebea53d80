// The main package for the progress-crawler executable.
package main

import (
	"github.com/JakeFAU/progress-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}

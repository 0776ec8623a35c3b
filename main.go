// The main package for the kr-car-crawler executable.
package main

import (
	"github.com/JakeFAU/kr-car-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}

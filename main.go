// The main package for the crawl-recorder executable.
package main

import (
	"github.com/JakeFAU/crawl-recorder/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}

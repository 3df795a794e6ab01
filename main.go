// The main package for the relcrawl executable.
package main

import (
	"github.com/JakeFAU/relevance-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}

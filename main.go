// The main package for the listingcrawler executable.
package main

import (
	"github.com/kmilewski/listing-crawler/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}

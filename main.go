// The main package for the leadgen executable.
package main

import (
	"github.com/JakeFAU/reddit-leadgen/cmd"
)

func main() {
	cmd.Execute()
}

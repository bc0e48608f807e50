// The main package for the newslens executable.
package main

import (
	"github.com/newslens/newslens/cmd"
)

func main() {
	cmd.Execute()
}

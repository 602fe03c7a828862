// The main package for the ingest-progress executable.
package main

import (
	"github.com/JakeFAU/ingest-progress/cmd"
)

func main() {
	cmd.Execute()
}

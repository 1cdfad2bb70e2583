// Command relinfer runs approximate inference over the bundled scenario
// catalogue and manages the stored run records.
package main

import (
	"fmt"
	"io"
	"os"
)

var exitFunc = os.Exit

func main() {
	exitFunc(cli(os.Args[1:], os.Stdout, os.Stderr))
}

// cli executes the command tree and maps failures to exit status 1.
func cli(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "relinfer: %v\n", err)
		return 1
	}
	return 0
}

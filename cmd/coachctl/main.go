// Command coachctl inspects the phase catalog and manages stored coaching
// sessions without running the server.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/autopeer-io/spotpeer/cmd/spotctl/app"
)

func main() {
	if err := app.NewCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

package main

import (
	"os"

	"github.com/mfeldt/stackup/cmd/stackup/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}

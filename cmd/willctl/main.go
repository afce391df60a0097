package main

import (
	"os"

	"github.com/willexec/willexec/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}

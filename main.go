package main

import (
	"os"

	"github.com/lvcoi/dgetmusic/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}

package main

import (
	"os"

	"github.com/digggggmori-pixel/usbsentinel/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}

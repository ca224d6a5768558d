package main

import (
	"os"

	"paklaw.com/paklaw-assist/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}

package main

import (
	"os"

	"lessonforge/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}

package main

import (
	cmd "github.com/rohmanhakim/media-pipeline/internal/cli"
)

func main() {
	cmd.Execute()
}

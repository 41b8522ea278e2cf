package main

import (
	"os"

	"github.com/Dbillionaer/llm-council-local/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"os"

	"github.com/linkstash/linkstash/internal/cli"
)

func main() {
	os.Exit(cli.ExecuteWithErrorCode(os.Args[1:]))
}

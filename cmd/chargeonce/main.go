package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/enrollkit/chargeonce/internal/cli"
)

func main() {
	if os.Getenv("CHARGEONCE_MODE") != "release" {
		// Missing .env is fine outside release mode; environment
		// variables alone are enough.
		_ = godotenv.Load()
	}

	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}

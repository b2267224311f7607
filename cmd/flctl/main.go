package main

import (
	"os"

	"github.com/fleecy/participant/internal/cli"
)

func main() {
	cli.SetDefaults(os.Getenv("FLEECY_SERVER_URL"), os.Getenv("FLEECY_AUTH_ADMIN_API_KEY"))

	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

//go:build linux

package main

import (
	"fmt"
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/searchktools/bff-server/app"
	"github.com/searchktools/bff-server/config"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	a, err := app.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := a.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

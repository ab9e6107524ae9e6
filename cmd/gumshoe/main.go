package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/tcaine/gumshoe/cmd/gumshoe/client"
	"github.com/tcaine/gumshoe/cmd/gumshoe/server"
)

func main() {
	if err := app().Run(os.Args); err != nil {
		fmt.Printf("gumshoe error: %v\n", err)
		os.Exit(1)
	}
}

func app() *cli.App {
	app := cli.NewApp()
	app.Name = "gumshoe"
	app.Usage = "two-player detective mystery sessions over TCP"
	app.Commands = []*cli.Command{
		server.Command(),
		client.Command(),
	}
	return app
}

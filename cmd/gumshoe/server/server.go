// The server command is the main entrypoint for running gumshoe. It loads
// the configuration, wires up the resources, and runs the session server
// until it is told to stop.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/tcaine/gumshoe/internal"
	"github.com/tcaine/gumshoe/internal/core"
)

func Command() *cli.Command {
	return &cli.Command{
		Name:        "server",
		Usage:       "gumshoe session server",
		Description: "Runs the gumshoe session server.",
		Action:      run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the directory containing the server config file",
				EnvVars: []string{"GUMSHOE_CONFIG"},
				Value:   "./",
			},
		},
	}
}

func run(cc *cli.Context) error {
	configPath := cc.String("config")
	config := core.LoadConfig(configPath)
	fmt.Println("using configuration from:", configPath)

	// Change to the same directory as the config file so that any relative
	// paths in the config file will resolve.
	if err := os.Chdir(filepath.Dir(configPath)); err != nil {
		return fmt.Errorf("error changing to config directory: %w", err)
	}

	// Bind the Controller to one top-level context so that we can shut
	// down cleanly on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		fmt.Println("waiting to shut down gracefully...")
		cancel()
	}()

	controller := &internal.Controller{Config: config}
	if err := controller.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	fmt.Println("shut down")
	return nil
}

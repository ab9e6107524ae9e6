// The client command is a terminal client for gumshoe servers: one pane of
// session output above a command prompt.
package client

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jroimartin/gocui"
	"github.com/urfave/cli/v2"

	"github.com/tcaine/gumshoe/internal/client"
	"github.com/tcaine/gumshoe/internal/core"
)

func Command() *cli.Command {
	return &cli.Command{
		Name:        "client",
		Usage:       "gumshoe terminal client",
		Description: "Connects to a gumshoe server and plays interactively.",
		Action:      run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the directory containing the client config file",
				EnvVars: []string{"GUMSHOE_CONFIG"},
				Value:   "./",
			},
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "Server address, overriding the config file",
			},
		},
	}
}

func run(cc *cli.Context) error {
	config := core.LoadConfig(cc.String("config"))
	if addr := cc.String("server"); addr != "" {
		config.Client.ServerAddress = addr
	}

	logger, err := core.NewLogger(config)
	if err != nil {
		return fmt.Errorf("error initializing logger: %w", err)
	}
	if config.Logging.LogFilePath == "" {
		// Without a log file, stray log lines would tear up the UI.
		logger.SetOutput(io.Discard)
	}

	c := client.New(config, logger)
	if err := c.Connect(context.Background()); err != nil {
		return err
	}
	defer c.Close()

	ui := &ui{client: c}
	return ui.runLoop()
}

type ui struct {
	client *client.Client
	gui    *gocui.Gui
}

func (u *ui) runLoop() error {
	g, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		return err
	}
	defer g.Close()
	u.gui = g

	g.Cursor = true
	g.SetManagerFunc(u.layout)

	if err := g.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone, quit); err != nil {
		return err
	}
	if err := g.SetKeybinding("input", gocui.KeyEnter, gocui.ModNone, u.submit); err != nil {
		return err
	}

	go u.renderLoop()

	if err := g.MainLoop(); err != nil && err != gocui.ErrQuit {
		return err
	}
	return nil
}

func quit(_ *gocui.Gui, _ *gocui.View) error {
	return gocui.ErrQuit
}

func (u *ui) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()

	if v, err := g.SetView("log", 0, 0, maxX-1, maxY-3); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "gumshoe"
		v.Autoscroll = true
		v.Wrap = true
		fmt.Fprintln(v, "Connected. Type 'help' for commands.")
	}

	if v, err := g.SetView("input", 0, maxY-3, maxX-1, maxY-1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Editable = true
		if _, err := g.SetCurrentView("input"); err != nil {
			return err
		}
	}
	return nil
}

// submit parses and sends the typed line, echoing it into the log pane.
func (u *ui) submit(g *gocui.Gui, v *gocui.View) error {
	line := strings.TrimSpace(v.Buffer())
	v.Clear()
	if err := v.SetCursor(0, 0); err != nil {
		return err
	}
	if line == "" {
		return nil
	}

	u.printf("> %s", line)

	if line == "quit" {
		return gocui.ErrQuit
	}
	if line == "help" {
		// Local syntax help; the server adds what applies to the current state.
		u.printf("%s", usageText)
	}
	if err := sendCommand(u.client, line); err != nil {
		u.printf("! %s", err)
	}
	return nil
}

// renderLoop forwards server messages into the log pane until the
// connection drops.
func (u *ui) renderLoop() {
	for message := range u.client.Messages {
		text := formatMessage(message)
		if text == "" {
			continue
		}
		u.printf("%s", text)
	}

	u.gui.Update(func(g *gocui.Gui) error {
		if v, err := g.View("log"); err == nil {
			fmt.Fprintln(v, "Disconnected from server. Press Ctrl-C to exit.")
		}
		return nil
	})
}

func (u *ui) printf(format string, args ...interface{}) {
	u.gui.Update(func(g *gocui.Gui) error {
		v, err := g.View("log")
		if err != nil {
			return err
		}
		fmt.Fprintf(v, format+"\n", args...)
		return nil
	})
}

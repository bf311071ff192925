package app

import (
	"fmt"
	"os"
	"runtime"

	"github.com/obytehq/walletsrv/cli/server"
	"github.com/obytehq/walletsrv/pkg/config"
	"github.com/urfave/cli"
)

func versionPrinter(c *cli.Context) {
	_, _ = fmt.Fprintf(c.App.Writer, "walletsrv\nVersion: %s\nGoVersion: %s\n",
		config.Version,
		runtime.Version(),
	)
}

// New creates a walletsrv instance of [cli.App] with all commands included.
func New() *cli.App {
	cli.VersionPrinter = versionPrinter
	ctl := cli.NewApp()
	ctl.Name = "walletsrv"
	ctl.Version = config.Version
	ctl.Usage = "Multi-signature wallet coordination service"
	ctl.ErrWriter = os.Stdout

	ctl.Commands = append(ctl.Commands, server.NewCommands()...)
	return ctl
}

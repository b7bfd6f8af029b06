package main

import (
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/meterd/cmd/meterd/commands"
	ferrors "git.home.luguber.info/inful/meterd/internal/foundation/errors"
	"git.home.luguber.info/inful/meterd/internal/version"
)

func main() {
	var cli commands.CLI
	global := commands.NewGlobal()

	parser := kong.Parse(&cli,
		kong.Name("meterd"),
		kong.Description("Measurement service lifecycle controller and forward proxy."),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
		kong.Bind(global),
	)

	err := parser.Run(global, &cli)
	os.Exit(ferrors.NewCLIErrorAdapter(cli.Verbose, global.Logger).Report(os.Stderr, err))
}

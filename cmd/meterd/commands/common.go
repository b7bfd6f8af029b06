package commands

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/meterd/internal/observability"
)

// Global carries state shared by every subcommand.
type Global struct {
	Logger *slog.Logger
	Level  *slog.LevelVar
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"meterd.yaml" env:"METERD_CONFIG"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Server  string           `help:"Base URL of a running meterd daemon" default:"http://127.0.0.1:8090" env:"METERD_SERVER"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Daemon  DaemonCmd  `cmd:"" help:"Run the measurement service daemon"`
	Init    InitCmd    `cmd:"" help:"Initialize a new configuration file"`
	Command CommandCmd `cmd:"" help:"Send a lifecycle command to a running daemon"`
	Forward ForwardCmd `cmd:"" help:"Send a forward request to a running daemon"`
	Status  StatusCmd  `cmd:"" help:"Show the measurement service state"`
	History HistoryCmd `cmd:"" help:"Show recent journal entries"`
	Events  EventsCmd  `cmd:"" help:"Stream daemon events"`
}

// NewGlobal builds the shared logger. The level var is adjusted by
// AfterApply and, in daemon mode, by configuration reloads.
func NewGlobal() *Global {
	level := new(slog.LevelVar)
	logger := observability.NewLogger(os.Stderr, level)
	slog.SetDefault(logger)
	return &Global{Logger: logger, Level: level}
}

// AfterApply runs after flag parsing and applies --verbose.
func (c *CLI) AfterApply(g *Global) error {
	if c.Verbose {
		g.Level.Set(slog.LevelDebug)
	}
	return nil
}

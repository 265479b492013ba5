package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
)

// Args are command line arguments.
type Args struct {
	ServerName string
	ListenAddr string

	// Addresses to link to at startup.
	Links []string

	ConfigFile    string
	MetricsListen string
	LogLevel      slog.Level
}

// Flags that take a value. reorderArgs needs to know them.
var valueFlags = map[string]struct{}{
	"link":      {},
	"config":    {},
	"metrics":   {},
	"log-level": {},
}

// newCommand builds the command line interface. run gets the parsed
// arguments.
func newCommand(run func(context.Context, Args) error) *cli.Command {
	return &cli.Command{
		Name:      "catlink",
		Usage:     "an IRC server that links with others",
		ArgsUsage: "<servername> <bind-address:port>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "link",
				Usage: "link to the server at `ADDRESS` (host:port) at startup",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "read settings from `FILE`",
			},
			&cli.StringFlag{
				Name:  "metrics",
				Usage: "serve Prometheus metrics on `ADDRESS`",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "one of debug, info, warn, error",
			},
		},
		// We pick exit codes ourselves.
		ExitErrHandler: func(context.Context, *cli.Command, error) {},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args, err := argsFromCommand(cmd)
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			return run(ctx, args)
		},
	}
}

func argsFromCommand(cmd *cli.Command) (Args, error) {
	if cmd.Args().Len() != 2 {
		return Args{}, errors.New("usage: catlink <servername> <bind-address:port> [--link address]...")
	}

	args := Args{
		ServerName:    cmd.Args().Get(0),
		ListenAddr:    cmd.Args().Get(1),
		Links:         cmd.StringSlice("link"),
		MetricsListen: cmd.String("metrics"),
	}

	if err := args.LogLevel.UnmarshalText([]byte(cmd.String("log-level"))); err != nil {
		return Args{}, errors.Wrap(err, "invalid log level")
	}

	if f := cmd.String("config"); f != "" {
		configPath, err := filepath.Abs(f)
		if err != nil {
			return Args{}, errors.Wrapf(err,
				"unable to determine absolute path to config file: %s", f)
		}
		args.ConfigFile = configPath
	}

	return args, nil
}

// reorderArgs moves flags ahead of positional arguments so that
// "catlink name addr --link x" parses like "catlink --link x name addr".
func reorderArgs(argv []string) []string {
	if len(argv) == 0 {
		return argv
	}

	flags := []string{argv[0]}
	var positional []string

	for i := 1; i < len(argv); i++ {
		a := argv[i]
		if a == "--" {
			positional = append(positional, argv[i+1:]...)
			break
		}
		if !strings.HasPrefix(a, "-") || a == "-" {
			positional = append(positional, a)
			continue
		}
		flags = append(flags, a)

		name := strings.TrimLeft(a, "-")
		if strings.Contains(name, "=") {
			continue
		}
		if _, ok := valueFlags[name]; ok && i+1 < len(argv) {
			flags = append(flags, argv[i+1])
			i++
		}
	}

	return append(flags, positional...)
}

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli"
)

var (
	flgEvents   = cli.StringFlag{Name: "events, e", Usage: "serve notices as websocket events on this address (host:port)"}
	flgSettle   = cli.DurationFlag{Name: "settle", Usage: "delay between subscription and the first command (default from config)"}
	flgZeroSize = cli.StringFlag{Name: "zero-size", Usage: "what to do when the recorder reports a zero-size file (skip / abort)"}
	flgTimeout  = cli.DurationFlag{Name: "timeout, t", Value: 10 * time.Minute, Usage: "give up on the pull after this long"}
)

func main() {
	app := cli.NewApp()

	app.Name = "dictofun-sync"
	app.Usage = "Download recordings from a dictofun voice recorder over BLE"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Usage: "JSON config file"},
		cli.StringFlag{Name: "log-level, l", Usage: "TRACE / DEBUG / INFO / WARN / ERROR"},
		cli.StringFlag{Name: "data-dir, d", Usage: "where recordings and the index live"},
	}

	app.Commands = []cli.Command{
		{
			Name:    "pull",
			Aliases: []string{"p"},
			Usage:   "Connect to the recorder through BlueZ and download every file",
			Action:  pull,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "addr, a", Usage: "MAC address of the recorder"},
				cli.StringFlag{Name: "adapter", Usage: "BlueZ adapter (default from config)"},
				flgSettle, flgZeroSize, flgEvents, flgTimeout,
			},
		},
		{
			Name:    "simulate",
			Aliases: []string{"sim"},
			Usage:   "Pull from an emulated recorder over the simulated radio",
			Action:  simulate,
			Flags: []cli.Flag{
				cli.IntFlag{Name: "files, n", Value: 3, Usage: "number of recordings on the emulated recorder"},
				cli.IntFlag{Name: "size, s", Value: 4096, Usage: "bytes per recording"},
				cli.IntFlag{Name: "drop-after", Usage: "drop the link once after this many bytes (0: never)"},
				cli.StringFlag{Name: "client", Value: "android", Usage: "central stack to emulate (android / ios)"},
				flgSettle, flgZeroSize, flgEvents, flgTimeout,
			},
		},
		{
			Name:    "scan",
			Aliases: []string{"s"},
			Usage:   "List recorders BlueZ knows about",
			Action:  scan,
			Flags: []cli.Flag{
				cli.DurationFlag{Name: "duration", Usage: "run discovery this long first (0: only list known devices)"},
				cli.StringFlag{Name: "adapter", Usage: "BlueZ adapter (default from config)"},
			},
		},
		{
			Name:   "list",
			Usage:  "List downloaded recordings",
			Action: list,
		},
		{
			Name:   "erase",
			Usage:  "Delete every downloaded recording",
			Action: erase,
		},
		{
			Name:  "transcript",
			Usage: "Attach or read a recording's transcription",
			Subcommands: []cli.Command{
				{
					Name:      "set",
					Usage:     "Store a transcription",
					ArgsUsage: "NAME TEXT",
					Action:    transcriptSet,
				},
				{
					Name:      "show",
					Usage:     "Print a transcription",
					ArgsUsage: "NAME",
					Action:    transcriptShow,
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

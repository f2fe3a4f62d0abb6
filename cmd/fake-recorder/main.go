package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"
	"github.com/user/dictofun-sync/logger"
	"github.com/user/dictofun-sync/recorder"
	"github.com/user/dictofun-sync/util"
)

func main() {
	app := cli.NewApp()

	app.Name = "fake-recorder"
	app.Usage = "Run an emulated dictofun recorder on the simulated radio"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "id", Value: "dictofun-sim", Usage: "device id other simulated devices connect to"},
		cli.StringFlag{Name: "name", Value: recorder.DefaultName, Usage: "advertised name"},
		cli.IntFlag{Name: "files, n", Value: 3, Usage: "number of recordings"},
		cli.IntFlag{Name: "size, s", Value: 4096, Usage: "bytes per recording"},
		cli.IntFlag{Name: "mtu", Value: 247, Usage: "largest ATT MTU to agree to"},
		cli.IntFlag{Name: "drop-after", Usage: "drop the link once after this many bytes (0: never)"},
		cli.StringFlag{Name: "watch, w", Usage: "also serve files dropped into this directory"},
		cli.StringFlag{Name: "data-dir, d", Usage: "simulated radio directory"},
		cli.StringFlag{Name: "log-level, l", Value: "INFO", Usage: "TRACE / DEBUG / INFO / WARN / ERROR"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger.SetLevel(logger.ParseLevel(c.String("log-level")))
	if dir := c.String("data-dir"); dir != "" {
		os.Setenv(util.DataDirEnv, dir)
	}

	files := recorder.SampleFiles(c.Int("files"), c.Int("size"))
	rec := recorder.New(c.String("id"), files, recorder.Options{
		Name:           c.String("name"),
		MaxMTU:         c.Int("mtu"),
		DropAfterBytes: c.Int("drop-after"),
	})
	if err := rec.Start(); err != nil {
		return err
	}
	defer rec.Stop()

	tag := logger.Tag(rec.ID(), "Recorder")
	for i, f := range files {
		logger.Info(tag, "🎙️  File %d: %d bytes, crc32=%08x", i, len(f), recorder.Checksum(f))
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if dir := c.String("watch"); dir != "" {
		dw, err := recorder.WatchDir(rec, dir, 0)
		if err != nil {
			return err
		}
		go dw.Run(ctx)
		logger.Info(tag, "👀 Watching %s for new recordings", dir)
	}

	logger.Info(tag, "📡 Advertising as %s in %s (Ctrl-C to stop)", c.String("name"), util.GetDataDir())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info(tag, "👋 Served %d files", rec.Served())
	return nil
}

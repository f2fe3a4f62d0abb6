package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"
	"github.com/user/dictofun-sync/bluez"
	"github.com/user/dictofun-sync/config"
	"github.com/user/dictofun-sync/feed"
	"github.com/user/dictofun-sync/fts"
	"github.com/user/dictofun-sync/link"
	"github.com/user/dictofun-sync/logger"
	"github.com/user/dictofun-sync/recorder"
	"github.com/user/dictofun-sync/storage"
	"github.com/user/dictofun-sync/util"
	"github.com/user/dictofun-sync/wire"
)

const tag = "dictofun-sync"

// loadConfig layers config file, environment and command line flags
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if v := c.GlobalString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v := c.GlobalString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if c.IsSet("adapter") {
		cfg.Adapter = c.String("adapter")
	}
	if c.IsSet("addr") {
		cfg.DeviceAddress = c.String("addr")
	}
	if c.IsSet("settle") {
		cfg.SettleDelayMs = int(c.Duration("settle") / time.Millisecond)
	}
	if c.IsSet("zero-size") {
		cfg.ZeroSizePolicy = c.String("zero-size")
	}
	if c.IsSet("events") {
		cfg.EventsAddr = c.String("events")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	// The simulated radio finds sockets and device tables through the env var
	os.Setenv(util.DataDirEnv, cfg.DataDir)
	return cfg, nil
}

func signalContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func pull(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	cfg.Backend = config.BackendBlueZ
	if cfg.DeviceAddress == "" {
		return errors.New("no recorder address: pass --addr or set device_address")
	}

	transport, err := bluez.NewTransport(cfg.Adapter)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(c.Duration("timeout"))
	defer cancel()
	return runPull(ctx, cfg, transport, cfg.DeviceAddress, 1)
}

func simulate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	cfg.Backend = config.BackendSim

	var newTransport func(*wire.Wire) link.Transport
	switch c.String("client") {
	case "android":
		newTransport = func(w *wire.Wire) link.Transport { return link.NewKotlinTransport(w, cfg.RequestMTU) }
	case "ios":
		newTransport = func(w *wire.Wire) link.Transport { return link.NewSwiftTransport(w) }
	default:
		return cli.NewExitError(fmt.Sprintf("unknown client %q (android / ios)", c.String("client")), 2)
	}

	files := recorder.SampleFiles(c.Int("files"), c.Int("size"))
	rec := recorder.New("dictofun-sim", files, recorder.Options{DropAfterBytes: c.Int("drop-after")})
	if err := rec.Start(); err != nil {
		return err
	}
	defer rec.Stop()

	phone := wire.NewWire("phone")
	if err := phone.Start(); err != nil {
		return err
	}
	defer phone.Stop()

	ctx, cancel := signalContext(c.Duration("timeout"))
	defer cancel()

	attempts := 1
	if c.Int("drop-after") > 0 {
		attempts = 2
	}
	return runPull(ctx, cfg, newTransport(phone), rec.ID(), attempts)
}

// runPull drives one recorder until it has no more files. A transfer cut
// short by link loss is retried while attempts remain.
func runPull(ctx context.Context, cfg *config.Config, transport link.Transport, address string, attempts int) error {
	policy, err := fts.ParseZeroSizePolicy(cfg.ZeroSizePolicy)
	if err != nil {
		return err
	}

	lib, err := storage.OpenLibrary(cfg.DataDir)
	if err != nil {
		return err
	}
	defer lib.Close()

	session := fts.NewSession(lib.NewSink(), fts.SessionConfig{
		SettleDelay:    cfg.SettleDelay(),
		ZeroSizePolicy: policy,
	})
	m := link.NewManager(transport, session)

	if cfg.EventsAddr != "" {
		hub := feed.NewHub()
		srv, err := feed.Serve(cfg.EventsAddr, hub)
		if err != nil {
			return err
		}
		defer srv.Close()
		defer hub.Close()
		m.Subscribe(hub.Publish)
	}
	m.Subscribe(func(n fts.Notice) {
		switch n.Kind {
		case fts.NoticeFileStarted:
			logger.Info(tag, "📥 Receiving %d bytes", n.Size)
		case fts.NoticeFileReceived:
			logger.Info(tag, "✅ Saved %s (%d bytes)", n.Path, n.Size)
		}
	})

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go m.Run(runCtx)
	<-m.Running()

	for attempt := 1; ; attempt++ {
		result, err := m.Pull(ctx, address)
		if err == nil {
			logger.Info(tag, "✅ Recorder has no more files (%d received this session)", len(result.Files))
			logger.DebugJSON(tag, "pull result", result)
			return nil
		}

		retryable := errors.Is(err, link.ErrTransferAborted) || errors.Is(err, fts.ErrLinkLost)
		if !retryable || attempt >= attempts || ctx.Err() != nil {
			if len(result.Files) > 0 {
				logger.Warn(tag, "⚠️  Kept %d files received before the failure", len(result.Files))
			}
			return fmt.Errorf("pull from %s: %w", address, err)
		}
		logger.Warn(tag, "⚠️  Attempt %d failed (%v), reconnecting", attempt, err)
	}
}

func scan(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	transport, err := bluez.NewTransport(cfg.Adapter)
	if err != nil {
		return err
	}

	if d := c.Duration("duration"); d > 0 {
		ctx, cancel := signalContext(0)
		defer cancel()
		logger.Info(tag, "📡 Discovering for %v...", d)
		if err := transport.Discover(ctx, d); err != nil {
			return err
		}
	}

	devices, err := transport.ScanFor(cfg.NamePrefix)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Printf("No devices named %s* known to %s\n", cfg.NamePrefix, cfg.Adapter)
		return nil
	}
	for _, d := range devices {
		state := ""
		if d.Connected {
			state = " (connected)"
		}
		fmt.Printf("%s  %-16s rssi=%d%s\n", d.Address, d.Name, d.RSSI, state)
	}
	return nil
}

func openLibrary(c *cli.Context) (*storage.Library, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	return storage.OpenLibrary(cfg.DataDir)
}

func list(c *cli.Context) error {
	lib, err := openLibrary(c)
	if err != nil {
		return err
	}
	defer lib.Close()

	recordings, err := lib.List()
	if err != nil {
		return err
	}
	for _, r := range recordings {
		mark := ""
		if r.Transcription != "" {
			mark = "  📝"
		}
		fmt.Printf("%s  %8d bytes  %s%s\n", r.CreatedAt.Format(time.RFC3339), r.Size, r.Name, mark)
	}
	fmt.Printf("%d recordings\n", len(recordings))
	return nil
}

func erase(c *cli.Context) error {
	lib, err := openLibrary(c)
	if err != nil {
		return err
	}
	defer lib.Close()

	n, err := lib.EraseAll()
	if err != nil {
		return err
	}
	fmt.Printf("🗑️  Erased %d recordings\n", n)
	return nil
}

func transcriptSet(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.NewExitError("usage: transcript set NAME TEXT", 2)
	}
	lib, err := openLibrary(c)
	if err != nil {
		return err
	}
	defer lib.Close()
	return lib.SetTranscription(c.Args().Get(0), c.Args().Get(1))
}

func transcriptShow(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("usage: transcript show NAME", 2)
	}
	lib, err := openLibrary(c)
	if err != nil {
		return err
	}
	defer lib.Close()

	text, err := lib.Transcription(c.Args().Get(0))
	if err != nil {
		return err
	}
	fmt.Println(text)
	return nil
}

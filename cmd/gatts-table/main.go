package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"tinygo.org/x/bluetooth"

	"github.com/user/gatts-table/config"
	"github.com/user/gatts-table/gatts"
	"github.com/user/gatts-table/logger"
	"github.com/user/gatts-table/radio"
	"github.com/user/gatts-table/stack"
	"github.com/user/gatts-table/wire"
)

func main() {
	app := cli.NewApp()

	app.Name = "gatts-table"
	app.Usage = "Attribute table GATT server (S-PATCH3)"
	app.Version = "1.2.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Usage: "YAML config file"},
		cli.StringFlag{Name: "backend, b", Usage: "stack backend (wire / radio), overrides the config"},
		cli.StringFlag{Name: "log-level, l", Usage: "trace, debug, info, warn or error"},
		cli.BoolFlag{Name: "json", Usage: "log JSON lines"},
		cli.BoolFlag{Name: "trace", Usage: "write packet traces under the data dir (wire backend)"},
	}
	app.Action = serve

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func serve(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return errors.Wrap(err, "can't load config")
	}
	if b := c.String("backend"); b != "" {
		cfg.Backend = b
	}
	if l := c.String("log-level"); l != "" {
		cfg.Logger.Level = l
	}
	if c.Bool("json") {
		cfg.Logger.JSON = true
	}
	if c.Bool("trace") {
		cfg.Logger.Trace = true
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logger.Level))
	logger.SetJSON(cfg.Logger.JSON)

	s, stop, err := openStack(cfg)
	if err != nil {
		return err
	}
	defer stop()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := gatts.NewApp(cfg, s).Start(ctx); err != nil {
		return errors.Wrap(err, "can't start server")
	}
	<-ctx.Done()
	logger.Info("main", "shutting down")
	return nil
}

// openStack starts the configured backend.
func openStack(cfg *config.Config) (stack.Stack, func(), error) {
	switch cfg.Backend {
	case config.BackendRadio:
		r := radio.New(bluetooth.DefaultAdapter)
		if err := r.Start(); err != nil {
			return nil, nil, errors.Wrap(err, "can't start radio")
		}
		return r, r.Stop, nil
	default:
		w := wire.NewWire(cfg.Device.ID, cfg.Logger.Trace)
		if err := w.Start(); err != nil {
			return nil, nil, errors.Wrap(err, "can't start wire")
		}
		logger.Info("main", "serving %q on the wire socket", cfg.Device.ID)
		return w, w.Stop, nil
	}
}

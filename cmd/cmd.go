package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/webitel/im-delivery-service/config"
)

const (
	ServiceName      = "im-delivery-service"
	ServiceNamespace = "webitel"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

// Run starts the one long-running server process. There are no
// subcommands: this is the application's only entry point, and the
// flags below are its entire surface.
func Run() error {
	app := &cli.App{
		Name:    ServiceName,
		Usage:   "Real-time notification delivery core for the Webitel platform",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config_file",
				Usage: "Path to the configuration file",
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Address to bind the websocket/http listener",
				Value: "0.0.0.0:9502",
			},
		},
		Action: runServer,
	}

	return app.Run(os.Args)
}

func runServer(c *cli.Context) error {
	var args []string
	if cf := c.String("config_file"); cf != "" {
		args = append(args, "--config_file", cf)
	}
	if listen := c.String("listen"); listen != "" {
		args = append(args, "--listen", listen)
	}

	cfg, err := config.LoadConfig(args)
	if err != nil {
		return err
	}

	app := NewApp(cfg)

	if err := app.Start(c.Context); err != nil {
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("SHUTDOWN_SIGNAL_RECEIVED")
	return app.Stop(context.Background())
}

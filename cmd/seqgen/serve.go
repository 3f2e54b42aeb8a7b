package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/seqgen/internal/api"
	"github.com/samcharles93/seqgen/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		settings    decodeSettings
		addr        string
		readTimeout time.Duration
		genTimeout  time.Duration
		storeSize   int
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the generation API",
		Flags: append(decodeFlags(&settings),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.DurationFlag{
				Name:        "generate-timeout",
				Usage:       "limit on a single generation (0 = none)",
				Value:       time.Minute,
				Destination: &genTimeout,
			},
			&cli.IntFlag{
				Name:        "store-size",
				Usage:       "number of recent generations kept for GET /v1/generations/:id",
				Value:       api.DefaultStoreCapacity,
				Destination: &storeSize,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, fileConfig, &addr)
			applyDecodeConfig(cmd, fileConfig, &settings)

			gen, err := settings.load(log)
			if err != nil {
				return err
			}
			server := api.NewServer(gen, api.ServerConfig{
				Timeout:       genTimeout,
				StoreCapacity: storeSize,
				Defaults:      settings.options(),
				Logger:        log,
			})
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			log.Info("starting server", "address", addr, "checkpoint", gen.Info().Checkpoint)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	httpserver "github.com/sawpanic/spxsignals/internal/interfaces/http"
)

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the read-only monitor server",
		Long:  "Serves /health, /metrics, /basis, /impact, /fib, /memory and /snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			svc, cfg, err := loadService(reg)
			if err != nil {
				return err
			}
			defer svc.Close()

			if port > 0 {
				cfg.Server.Port = port
			}
			server, err := httpserver.NewServer(cfg.Server, svc, reg)
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case sig := <-sigCh:
				log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
			case err, ok := <-errCh:
				if ok {
					return err
				}
				return nil
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(ctx)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Override the configured port")
	return cmd
}

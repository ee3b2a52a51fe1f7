package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/adquify/catalog-harvester/internal/api"
)

const shutdownTimeout = 10 * time.Second

// newServeCmd creates the 'serve' subcommand, which exposes the operator API
// until the process is signalled.
func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves health, readiness and Prometheus metrics endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			logger := appInstance.Logger()
			if addr == "" {
				addr = appInstance.Config().Serve.Addr
			}

			server := api.NewServer(appInstance, logger.Named("api"))

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", addr, err)
			}
			srv := &http.Server{
				Handler:           server.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			ctx, stop := context.WithCancel(cmd.Context())
			defer stop()
			serveErr := make(chan error, 1)
			go func() {
				logger.Info("http server started", zap.String("addr", ln.Addr().String()))
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
					stop()
				}
				close(serveErr)
			}()

			<-ctx.Done()
			logger.Info("shutdown initiated")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown error", zap.Error(err))
			}
			logger.Info("shutdown complete")
			if err := <-serveErr; err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to serve.addr)")
	return cmd
}

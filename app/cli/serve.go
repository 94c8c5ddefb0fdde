package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tasktree/app/controllers"
	"tasktree/app/routes"
	"tasktree/app/services"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
)

func serveCmd(opts *options) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API.

Examples:
  tasktree serve
  tasktree serve --addr 127.0.0.1:9000
  TASKTREE_STORAGE_DRIVER=neo4j tasktree serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close(context.Background())

			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           newRouter(services.NewTaskService(st, logger), logger),
				ReadHeaderTimeout: 10 * time.Second,
			}
			return runServer(ctx, srv, cfg.Server.ShutdownTimeout, logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func newRouter(svc *services.TaskService, logger *log.Logger) *mux.Router {
	router := mux.NewRouter()
	routes.RegisterRoutes(router,
		controllers.NewTaskController(svc, logger),
		controllers.NewCommentController(svc, logger),
		logger)
	return router
}

// runServer serves until ctx is cancelled, then shuts down gracefully.
func runServer(ctx context.Context, srv *http.Server, timeout time.Duration, logger *log.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server is running", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", timeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

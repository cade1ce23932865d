package cli

import (
	"archivecore/internal/app"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command: it runs the job workers and
// exposes /metrics, /debug/vars and /healthz until interrupted.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the job workers and serve Prometheus metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd.Context(), rootOpts, func(ctx context.Context, rt *app.Runtime) error {
				if addr == "" {
					addr = rt.Config.MetricsAddr
				}
				if addr == "" {
					addr = ":9464"
				}
				ln, err := net.Listen("tcp", addr)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", ln.Addr())
				return serve(ctx, ln, routes(rt))
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default metrics_addr from config, then :9464)")
	return cmd
}

func routes(rt *app.Runtime) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", rt.MetricsHandler())
	mux.Handle("GET /debug/vars", rt.VarsHandler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "ok processed=%d failed=%d\n", rt.Jobs.Processed(), rt.Jobs.Failed())
	})
	return mux
}

func serve(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/frontdesk-ai/frontdesk/pkg/gateway"
	"github.com/frontdesk-ai/frontdesk/pkg/session"
	"github.com/frontdesk-ai/frontdesk/pkg/store"
)

// drainTimeout bounds graceful shutdown: live calls get this long to
// finalize and persist their records before the process exits.
const drainTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}

			db, err := store.Open(cfg.Store.Path, log)
			if err != nil {
				return err
			}
			defer db.Close()

			tracker := session.NewTracker()
			srv := gateway.New(cfg, db, tracker, nil, log)
			defer srv.Close()

			httpSrv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", cfg.Server.Addr).Msg("bridge listening")
				errCh <- httpSrv.ListenAndServe()
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case sig := <-stop:
				log.Info().Str("signal", sig.String()).Msg("shutting down")
			}

			// Cancel live sessions first so their websocket handlers can
			// return, then let the HTTP server drain. Sessions finalize on
			// cancel, so no call record is lost.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
			tracker.CancelAll()
			_ = httpSrv.Shutdown(shutdownCtx)

			if !tracker.Wait(shutdownCtx) {
				log.Warn().Int("remaining", tracker.Count()).Msg("drain timeout, some sessions did not finalize")
			}
			return nil
		},
	}
}

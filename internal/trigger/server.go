package trigger

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// ShutdownGrace bounds how long in-flight transfers may run after ctx ends.
var ShutdownGrace = 5 * time.Minute

// ListenAndServe serves the trigger routes on addr until ctx is cancelled,
// then drains in-flight deliveries.
func ListenAndServe(ctx context.Context, addr string, ingester Ingester) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(ingester),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("op", "trigger/server").Msgf("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info().Str("op", "trigger/server").Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

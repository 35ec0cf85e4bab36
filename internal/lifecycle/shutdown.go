package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

const DefaultShutdownTimeout = 5 * time.Second

// ServeHTTP runs srv until ctx ends, then drains it within
// DefaultShutdownTimeout.
func ServeHTTP(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http_server_start", slog.String("addr", srv.Addr))
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("http_server_stopped")
	return nil
}

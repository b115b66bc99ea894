// Package diagnostics optionally exposes mkevac/debugcharts's live
// goroutine/heap charts over HTTP, for watching a long relay session
// during development.
//
// It is never required for correct relay operation: the protocol core
// never imports this package's listener into its hot path, and a
// production build running at logx.LevelInfo never starts it.
package diagnostics

import (
	"context"
	"errors"
	"net/http"

	// debugcharts registers its handlers on http.DefaultServeMux as a
	// side effect of being imported (/debug/charts/...); there is no
	// exported registration function to call explicitly.
	_ "github.com/mkevac/debugcharts"

	"github.com/cardtunnel/relay/internal/logx"
)

var log = logx.New("diagnostics")

// Server wraps the HTTP listener serving debugcharts' dashboard.
type Server struct {
	http *http.Server
}

// StartIfVerbose starts the diagnostics server on addr when the current
// log level is LevelDebug or more verbose, returning nil otherwise. It
// never blocks.
func StartIfVerbose(addr string) *Server {
	if logx.CurrentLevel() < logx.LevelDebug {
		return nil
	}
	return Start(addr)
}

// Start unconditionally starts the diagnostics server on addr, serving
// http.DefaultServeMux (the mux debugcharts registered itself on).
func Start(addr string) *Server {
	srv := &Server{http: &http.Server{Addr: addr, Handler: http.DefaultServeMux}}
	go func() {
		log.Info("diagnostics listening on %s", addr)
		if err := srv.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Debug("diagnostics server stopped: %v", err)
		}
	}()
	return srv
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

package logging

import (
	"log/slog"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof handlers
)

// startPprof serves the default mux on addr in the background.
func startPprof(addr string) {
	go func() {
		Logger().Info("pprof_server_start", slog.String("addr", addr))
		if err := http.ListenAndServe(addr, nil); err != nil {
			Logger().Error("pprof_server_error", slog.String("error", err.Error()))
		}
	}()
}

// Package httpapi serves locally stored objects and the read-only file
// listing consumed by the surrounding application.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/cors"

	"quotesync/internal/files"
	"quotesync/internal/qsync"
	"quotesync/internal/storage"
)

// Options configure the handler.
type Options struct {
	StaticBaseURL  string
	AllowedOrigins []string
}

// NewHandler builds the HTTP routes. local is nil when the remote backend is
// active; the static route is then not mounted.
func NewHandler(svc *files.Service, local *storage.LocalDriver, log qsync.Logger, opts Options) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})

	mux.HandleFunc("GET /api/quotes/{quoteID}/files", func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.ListQuoteFiles(r.Context(), r.PathValue("quoteID"))
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, qsync.ErrInvalidArgument) {
				status = http.StatusBadRequest
			}
			log.Error("listing quote files failed", "quote", r.PathValue("quoteID"), "error", err)
			writeJSON(w, status, Payload{Success: false, Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, Payload{Success: true, Message: "ok", Data: list})
	})

	if local != nil {
		prefix := staticPrefix(opts.StaticBaseURL)
		mux.Handle("GET "+prefix+"/", http.StripPrefix(prefix+"/", serveObjects(local, log)))
	}

	c := cors.New(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return logRequests(log, c.Handler(mux))
}

// staticPrefix returns the path component of the static base URL without a
// trailing slash.
func staticPrefix(base string) string {
	p := base
	if u, err := url.Parse(base); err == nil && u.Host != "" {
		p = u.Path
	}
	p = "/" + strings.Trim(p, "/")
	if p == "/" {
		return "/files"
	}
	return p
}

// serveObjects serves the object whose key is the request path. Objects that
// moved on disk are found through the driver's search fallback.
func serveObjects(local *storage.LocalDriver, log qsync.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if err := qsync.ValidateKey(key); err != nil {
			http.NotFound(w, r)
			return
		}
		path, ok, err := local.Locate(r.Context(), key)
		if err != nil {
			log.Error("locating object failed", "key", key, "error", err)
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", qsync.DetectContentType(key))
		http.ServeFile(w, r, path)
	})
}

// Serve runs an HTTP server on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler, log qsync.Logger) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving http: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down http server: %w", err)
		}
		log.Info("http server stopped")
		return nil
	}
}

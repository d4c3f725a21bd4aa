// Package preview serves acquired media blobs over a loopback HTTP server so
// they can be opened inline by a browser or media player.
package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/M0usa391/video-saver-tik-tok/internal/downloader"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
)

// NewHandler returns the preview router for registry.
//
//	GET    /blobs/{id}  serve the blob inline (Range requests supported)
//	DELETE /blobs/{id}  release the blob
//	GET    /healthz     liveness plus registry usage
func NewHandler(registry *downloader.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/blobs/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		blob, ok := registry.Get(id)
		if !ok {
			http.Error(w, "blob not found", http.StatusNotFound)
			return
		}
		if blob.ContentType != "" {
			w.Header().Set("Content-Type", blob.ContentType)
		}
		w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": blob.Filename}))
		w.Header().Set("Cache-Control", "no-store")
		http.ServeContent(w, req, blob.Filename, time.Time{}, bytes.NewReader(blob.Data))
	})

	r.Delete("/blobs/{id}", func(w http.ResponseWriter, req *http.Request) {
		if !registry.Release(chi.URLParam(req, "id")) {
			http.Error(w, "blob not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","blobs":%d,"bytes":%d}`, registry.Len(), registry.Bytes())
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.WithFields(log.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("Preview request")
	})
}

// Server is a running preview server.
type Server struct {
	srv      *http.Server
	listener net.Listener
}

// Start listens on addr and serves registry in the background. Use an addr
// with port 0 to pick a free port; Addr reports the one chosen.
func Start(addr string, registry *downloader.Registry) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	s := &Server{
		srv: &http.Server{
			Handler:           NewHandler(registry),
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: ln,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Preview server stopped")
		}
	}()
	log.Debugf("Preview server listening on %s", ln.Addr())
	return s, nil
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// BaseURL returns the http URL blobs are served under.
func (s *Server) BaseURL() string {
	return "http://" + s.Addr()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Package httpserver holds the http.Server construction so timeouts are set
// in one place.
package httpserver

import (
	"net/http"
	"time"
)

// New returns a server with conservative timeouts. Handler-level deadlines
// are tighter; these are the outer bound against slow clients.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Package site serves the embedded landing page that links the API surfaces.
package site

import (
	"context"
	"net/http"
)

// Register serves the landing page and its assets for GET requests that no
// more specific route claims.
func Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}
	mux.Handle("GET /", http.FileServer(FS()))
}

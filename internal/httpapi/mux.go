package httpapi

import "net/http"

// NewMux returns a mux serving GET /healthz over the given checks. Feature
// routes are registered on it by their packages.
func NewMux(checks ...Check) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, checks)
	return mux
}

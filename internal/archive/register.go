package archive

import (
	"database/sql"
	"log/slog"
	"net/http"
)

// RegisterFeature wires the archive: a new run is recorded, src feeds the
// ingester and the read API is added to mux.
func RegisterFeature(mux *http.ServeMux, db *sql.DB, src TelemetrySource, topic string, logger *slog.Logger) (*Ingester, error) {
	repo := NewRepository(db)
	ing, err := NewIngester(repo, topic, logger)
	if err != nil {
		return nil, err
	}
	ing.Register(src)
	NewController(repo).RegisterRoutes(mux)
	return ing, nil
}

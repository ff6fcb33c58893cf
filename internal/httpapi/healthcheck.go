package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

const healthTimeout = 2 * time.Second

// Check is one named dependency probed by /healthz.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// DBCheck probes the database with SELECT 1.
func DBCheck(db *sql.DB) Check {
	return Check{Name: "database", Probe: func(ctx context.Context) error {
		var ok int
		if err := db.QueryRowContext(ctx, `SELECT 1`).Scan(&ok); err != nil {
			return err
		}
		if ok != 1 {
			return errors.New("unexpected SELECT 1 result")
		}
		return nil
	}}
}

// ConnectedCheck reports the state of a long-lived connection.
func ConnectedCheck(name string, connected func() bool) Check {
	return Check{Name: name, Probe: func(context.Context) error {
		if !connected() {
			return errors.New("not connected")
		}
		return nil
	}}
}

type healthchecker struct {
	checks []Check
}

func (h *healthchecker) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	for _, c := range h.checks {
		if err := c.Probe(ctx); err != nil {
			slog.Error("health check failed", "check", c.Name, "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to check "+c.Name)
			return
		}
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func registerHealthcheck(mux *http.ServeMux, checks []Check) {
	h := &healthchecker{checks: checks}
	mux.HandleFunc("GET /healthz", h.handleHealthz)
}

package archive

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/g2-field-team/field-daq/internal/httpapi"
	"github.com/g2-field-team/field-daq/internal/topology"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Controller serves the archive read API.
type Controller struct {
	repository Repository
}

func NewController(repo Repository) *Controller {
	return &Controller{repository: repo}
}

func (c *Controller) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/channels", c.handleChannels)
	mux.HandleFunc("GET /api/channels/{id}/latest", c.handleLatest)
	mux.HandleFunc("GET /api/channels/{id}/readings", c.handleReadings)
}

func (c *Controller) handleChannels(w http.ResponseWriter, _ *http.Request) {
	channels, err := c.repository.ListChannels()
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, channels)
}

func (c *Controller) handleLatest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	latest, err := c.repository.LatestReadings(id, limit)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, latest)
}

func (c *Controller) handleReadings(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	from, to, limit, err := parseReadingsQuery(r)
	if err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	readings, err := c.repository.Readings(id, from, to, limit)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, readings)
}

func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if _, err := topology.ParseID(id); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "invalid hw_id (expected 3 digits)")
		return "", false
	}
	return id, true
}

func parseReadingsQuery(r *http.Request) (from, to time.Time, limit int, err error) {
	q := r.URL.Query()
	if s := q.Get("from"); s != "" {
		if from, err = time.Parse(time.RFC3339, s); err != nil {
			return time.Time{}, time.Time{}, 0, errors.New("invalid 'from' (expected RFC3339)")
		}
	}
	if s := q.Get("to"); s != "" {
		if to, err = time.Parse(time.RFC3339, s); err != nil {
			return time.Time{}, time.Time{}, 0, errors.New("invalid 'to' (expected RFC3339)")
		}
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return time.Time{}, time.Time{}, 0, errors.New("'from' must be <= 'to'")
	}
	limit, err = parseLimit(r)
	if err != nil {
		return time.Time{}, time.Time{}, 0, err
	}
	return from, to, limit, nil
}

func parseLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("invalid 'limit' (expected integer)")
	}
	if n <= 0 {
		return 0, errors.New("'limit' must be > 0")
	}
	if n > maxLimit {
		return 0, errors.New("'limit' must be <= 1000")
	}
	return n, nil
}

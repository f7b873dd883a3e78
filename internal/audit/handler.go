package audit

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/meridian-lms/meridian-lms/internal/platform/httpx"
)

// Guard protects a route. The authorization middleware package cannot be
// imported here (it depends on this one for denial events), so the caller
// supplies the guards already bound to their permission keys.
type Guard func(http.Handler) http.Handler

// Handler exposes the audit timeline over HTTP.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	viewGuard   Guard
	exportGuard Guard
}

// NewHandler builds the audit handler.
func NewHandler(logger *slog.Logger, service *Service, viewGuard, exportGuard Guard) *Handler {
	return &Handler{logger: logger, service: service, viewGuard: viewGuard, exportGuard: exportGuard}
}

// MountRoutes registers timeline endpoints on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.viewGuard).Get("/", h.timeline)
	r.With(h.exportGuard).Get("/export", h.exportCSV)
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit timeline failed", "err", err)
		httpx.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	rows := make([]timelineItem, 0, len(result.Rows))
	for _, row := range result.Rows {
		rows = append(rows, timelineItem{
			At:       row.At,
			ActorID:  row.ActorID,
			Action:   row.Action,
			Entity:   row.Entity,
			EntityID: row.EntityID,
			Meta:     row.Meta,
		})
	}
	httpx.JSON(w, http.StatusOK, timelineResponse{Rows: rows, Paging: result.Paging})
}

func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}
	rows, err := h.service.Export(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit export failed", "err", err)
		httpx.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-timeline.csv"`)
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"occurred_at", "actor_id", "action", "entity", "entity_id"})
	for _, row := range rows {
		_ = cw.Write([]string{
			row.At.UTC().Format(time.RFC3339),
			row.ActorID.String(),
			row.Action,
			row.Entity,
			row.EntityID,
		})
	}
	cw.Flush()
}

type timelineItem struct {
	At       time.Time      `json:"at"`
	ActorID  uuid.UUID      `json:"actor_id"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Meta     map[string]any `json:"meta,omitempty"`
}

type timelineResponse struct {
	Rows   []timelineItem `json:"rows"`
	Paging PagingInfo     `json:"paging"`
}

func parseFilters(r *http.Request) (TimelineFilters, error) {
	q := r.URL.Query()
	var filters TimelineFilters
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filters, fmt.Errorf("invalid from timestamp %q", raw)
		}
		filters.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filters, fmt.Errorf("invalid to timestamp %q", raw)
		}
		filters.To = t
	}
	if raw := q.Get("actor_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filters, fmt.Errorf("invalid actor_id %q", raw)
		}
		filters.ActorID = &id
	}
	filters.Entity = q.Get("entity")
	filters.Action = q.Get("action")
	if raw := q.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return filters, fmt.Errorf("invalid page %q", raw)
		}
		filters.Page = page
	}
	if raw := q.Get("page_size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 1 {
			return filters, fmt.Errorf("invalid page_size %q", raw)
		}
		filters.PageSize = size
	}
	return filters, nil
}

package audit

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/shinamagazin/shina-audit/pkg/auth"
	"github.com/shinamagazin/shina-audit/pkg/httputil"
	"github.com/shinamagazin/shina-audit/pkg/middleware"
	"github.com/shinamagazin/shina-audit/pkg/observability"
)

// Handlers provides HTTP handlers for the audit log API
type Handlers struct {
	service     *Service
	logger      *observability.Logger
	exportLimit func(http.Handler) http.Handler
	recorder    *Recorder
	now         func() time.Time
}

// NewHandlers creates new audit handlers
func NewHandlers(service *Service, logger *observability.Logger) *Handlers {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Handlers{
		service: service,
		logger:  logger,
		now:     time.Now,
	}
}

// WithExportLimit throttles the export endpoint with mw
func (h *Handlers) WithExportLimit(mw func(http.Handler) http.Handler) *Handlers {
	h.exportLimit = mw
	return h
}

// WithRecorder enables POST /v1/audit-logs/events
func (h *Handlers) WithRecorder(recorder *Recorder) *Handlers {
	h.recorder = recorder
	return h
}

// RegisterRoutes registers the audit log routes under /v1/audit-logs
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	view := middleware.RequirePermission(auth.PermissionSettingsView)
	export := middleware.RequirePermission(auth.PermissionReportsExport)

	r := router.PathPrefix("/v1/audit-logs").Subrouter()

	r.Handle("", view(http.HandlerFunc(h.search))).Methods("GET")
	r.Handle("/", view(http.HandlerFunc(h.search))).Methods("GET")
	r.Handle("/entity-types", view(http.HandlerFunc(h.entityTypes))).Methods("GET")
	r.Handle("/actions", view(http.HandlerFunc(h.actions))).Methods("GET")
	r.Handle("/date-range", view(http.HandlerFunc(h.dateRange))).Methods("GET")
	r.Handle("/entity/{entityType}/{entityId}", view(http.HandlerFunc(h.entityHistory))).Methods("GET")
	r.Handle("/user/{userId}", view(http.HandlerFunc(h.userHistory))).Methods("GET")
	r.Handle("/user/{userId}/activity", view(http.HandlerFunc(h.userActivity))).Methods("GET")

	var exportHandler http.Handler = http.HandlerFunc(h.export)
	if h.exportLimit != nil {
		exportHandler = h.exportLimit(exportHandler)
	}
	r.Handle("/export", export(exportHandler)).Methods("GET")

	if h.recorder != nil {
		write := middleware.RequirePermission(auth.PermissionAuditWrite)
		r.Handle("/events", write(http.HandlerFunc(h.ingest))).Methods("POST")
	}

	r.Handle("/{id:[0-9]+}", view(http.HandlerFunc(h.detail))).Methods("GET")
}

// search handles GET /v1/audit-logs
func (h *Handlers) search(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.Search(r.Context(), parseFilter(r), parsePageRequest(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

// detail handles GET /v1/audit-logs/{id}
func (h *Handlers) detail(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	detail, err := h.service.Detail(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, detail)
}

// entityHistory handles GET /v1/audit-logs/entity/{entityType}/{entityId}
func (h *Handlers) entityHistory(w http.ResponseWriter, r *http.Request) {
	entityType := mux.Vars(r)["entityType"]
	entityID, ok := httputil.ParsePathInt64OrError(w, r, "entityId")
	if !ok {
		return
	}

	records, err := h.service.EntityHistory(r.Context(), entityType, entityID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []Record{}
	}
	httputil.WriteJSON(w, http.StatusOK, records)
}

// userHistory handles GET /v1/audit-logs/user/{userId}
func (h *Handlers) userHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userId")
	if !ok {
		return
	}

	page, err := h.service.UserHistory(r.Context(), userID, parsePageRequest(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

// userActivity handles GET /v1/audit-logs/user/{userId}/activity
func (h *Handlers) userActivity(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userId")
	if !ok {
		return
	}

	filter := ActivityFilter{
		EntityType: httputil.QueryString(r, "entityType"),
		Action:     httputil.QueryString(r, "action"),
		From:       parseTimeParam(httputil.QueryString(r, "startDate"), false),
		To:         parseTimeParam(httputil.QueryString(r, "endDate"), true),
	}

	page, err := h.service.UserActivity(r.Context(), userID, filter, parsePageRequest(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

// dateRange handles GET /v1/audit-logs/date-range
func (h *Handlers) dateRange(w http.ResponseWriter, r *http.Request) {
	start := parseTimeParam(httputil.QueryString(r, "startDate"), false)
	end := parseTimeParam(httputil.QueryString(r, "endDate"), true)
	if start == nil || end == nil {
		httputil.WriteBadRequest(w, "startDate and endDate are required")
		return
	}

	page, err := h.service.DateRange(r.Context(), *start, *end, parsePageRequest(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

// entityTypes handles GET /v1/audit-logs/entity-types
func (h *Handlers) entityTypes(w http.ResponseWriter, r *http.Request) {
	values, err := h.service.EntityTypes(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, values)
}

// actions handles GET /v1/audit-logs/actions
func (h *Handlers) actions(w http.ResponseWriter, r *http.Request) {
	values, err := h.service.Actions(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, values)
}

// export handles GET /v1/audit-logs/export
func (h *Handlers) export(w http.ResponseWriter, r *http.Request) {
	format := ParseExportFormat(r.URL.Query().Get("format"))
	maxRecords := httputil.QueryInt(r, "maxRecords", DefaultExportRows)

	rows, err := h.service.ExportRows(r.Context(), parseFilter(r), maxRecords)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	data, err := Export(rows, format)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	filename := fmt.Sprintf("audit-logs-%s.%s", h.now().Format("20060102-150405"), format)
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrNotFound) {
		httputil.WriteNotFoundError(w, "audit log not found")
		return
	}
	observability.WithTraceContext(r.Context(), h.logger).
		WithError(err).
		WithField("path", r.URL.Path).
		Error("audit query failed")
	httputil.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
}

// parseFilter parses the search filter from query parameters. Malformed
// values are ignored.
func parseFilter(r *http.Request) Filter {
	return Filter{
		EntityType: httputil.QueryString(r, "entityType"),
		Action:     httputil.QueryString(r, "action"),
		UserID:     httputil.QueryInt64Ptr(r, "userId"),
		Search:     httputil.QueryString(r, "search"),
		From:       parseTimeParam(httputil.QueryString(r, "startDate"), false),
		To:         parseTimeParam(httputil.QueryString(r, "endDate"), true),
	}
}

// parsePageRequest parses page, size and sort ("field" or "field,asc|desc",
// repeatable)
func parsePageRequest(r *http.Request) PageRequest {
	req := PageRequest{
		Page: httputil.QueryInt(r, "page", 0),
		Size: httputil.QueryInt(r, "size", DefaultPageSize),
	}

	for _, raw := range r.URL.Query()["sort"] {
		field, dir, _ := strings.Cut(raw, ",")
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		req.Sort = append(req.Sort, SortOrder{
			Field: field,
			Desc:  strings.EqualFold(strings.TrimSpace(dir), "desc"),
		})
	}

	return req.Normalize()
}

var timeParamLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// parseTimeParam parses an ISO date or date-time. A bare date used as an
// upper bound covers the whole day.
func parseTimeParam(s string, endOfDay bool) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range timeParamLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		if endOfDay {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		return &t
	}
	return nil
}

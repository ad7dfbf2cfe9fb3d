package audit

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/shinamagazin/shina-audit/pkg/httputil"
	"github.com/shinamagazin/shina-audit/pkg/middleware"
)

const maxEventBody = 1 << 20

// ChangeEvent is a change reported by another service over HTTP
type ChangeEvent struct {
	EntityType string   `json:"entityType"`
	EntityID   *int64   `json:"entityId"`
	Action     Action   `json:"action"`
	OldValue   Snapshot `json:"oldValue"`
	NewValue   Snapshot `json:"newValue"`
	UserID     *int64   `json:"userId"`
	IPAddress  string   `json:"ipAddress"`
	UserAgent  string   `json:"userAgent"`
}

// ingest handles POST /v1/audit-logs/events. The event is validated here
// and persisted in the background by the recorder.
func (h *Handlers) ingest(w http.ResponseWriter, r *http.Request) {
	var event ChangeEvent
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBody))
	if err := decoder.Decode(&event); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}
	event.Action = Action(strings.ToUpper(strings.TrimSpace(string(event.Action))))

	candidate := Record{
		EntityType: event.EntityType,
		Action:     event.Action,
		OldValue:   event.OldValue,
		NewValue:   event.NewValue,
	}
	if err := candidate.Validate(); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	// The caller is the actor unless the event names one.
	userID := event.UserID
	if userID == nil {
		if id, ok := middleware.PrincipalFrom(r).ActorID(); ok {
			userID = &id
		}
	}

	meta := requestMetaFrom(r.Context())
	if event.IPAddress == "" {
		event.IPAddress = meta.IPAddress
	}
	if event.UserAgent == "" {
		event.UserAgent = meta.UserAgent
	}

	h.recorder.LogWithContext(r.Context(), event.EntityType, event.EntityID, event.Action,
		event.OldValue, event.NewValue, userID, event.IPAddress, event.UserAgent)

	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

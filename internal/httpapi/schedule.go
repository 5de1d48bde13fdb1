package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"agentsched.org/internal/audit"
	"agentsched.org/internal/orchestrator"
)

const maxRequestText = 2000

type scheduleRequest struct {
	UserRequest string `json:"user_request"`
	UserID      string `json:"user_id"`
}

type auditResponse struct {
	Items []audit.Entry `json:"items"`
	Limit int           `json:"limit"`
}

func (a *API) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	text := strings.TrimSpace(req.UserRequest)
	if text == "" {
		writeError(w, r, http.StatusBadRequest, "user_request is required")
		return
	}
	if len(text) > maxRequestText {
		writeError(w, r, http.StatusBadRequest, "user_request too long")
		return
	}
	user, code, msg := resolveUser(r, req.UserID)
	if code != 0 {
		writeError(w, r, code, msg)
		return
	}

	resp := a.scheduler.Run(r.Context(), orchestrator.Request{UserRequest: text, UserID: user})
	writeJSON(w, statusFor(resp), resp)
}

// statusFor maps a pipeline response onto an HTTP status.
func statusFor(resp orchestrator.Response) int {
	if resp.Status == orchestrator.StatusCreated {
		return http.StatusCreated
	}
	switch resp.Reason {
	case orchestrator.KindUnparsableRequest, orchestrator.KindAmbiguousIntent, orchestrator.KindInvalidIntent:
		return http.StatusUnprocessableEntity
	case orchestrator.KindConflict:
		return http.StatusConflict
	case orchestrator.KindNotificationFailed, orchestrator.KindPersistenceFailed:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (a *API) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, err := a.audit.Query(r.Context(), limit, filter)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "audit query failed")
		return
	}
	if items == nil {
		items = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, auditResponse{Items: items, Limit: limit})
}

func parseLimit(raw string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return audit.DefaultLimit, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return audit.NormalizeLimit(val), nil
}

func parseFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{
		Actor:     strings.TrimSpace(q.Get("actor")),
		Action:    strings.TrimSpace(q.Get("action")),
		EventID:   strings.TrimSpace(q.Get("event_id")),
		RequestID: strings.TrimSpace(q.Get("request_id")),
		Outcome:   audit.Outcome(strings.TrimSpace(q.Get("outcome"))),
	}
	switch f.Outcome {
	case "", audit.OutcomeSuccess, audit.OutcomeDenied, audit.OutcomeFailed:
		return f, nil
	}
	return audit.Filter{}, errors.New("outcome must be Success, Denied or Failed")
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return errors.New("request body is required")
		case errors.As(err, &tooLarge):
			return errors.New("request body too large")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

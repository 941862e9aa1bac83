// Package api exposes HTTP handlers for the attendance service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"example.com/smartcheck/internal/auth"
	"example.com/smartcheck/internal/domain"
	"example.com/smartcheck/internal/persistence"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// Handler coordinates HTTP requests with the domain services.
type Handler struct {
	pipeline   *domain.AdmissionPipeline
	codes      *domain.CodeService
	attendance *domain.AttendanceService
	validate   *validator.Validate
}

// NewHandler builds a Handler.
func NewHandler(pipeline *domain.AdmissionPipeline, codes *domain.CodeService, attendance *domain.AttendanceService) *Handler {
	return &Handler{
		pipeline:   pipeline,
		codes:      codes,
		attendance: attendance,
		validate:   validator.New(),
	}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/attendance", h.submitAttendance)
	mux.HandleFunc("GET /v1/attendance/preview", h.previewAdmission)
	mux.HandleFunc("GET /v1/attendance/history", h.attendanceHistory)
	mux.HandleFunc("GET /v1/events/{id}/attendance", h.eventAttendance)
	mux.HandleFunc("POST /v1/targets/{id}/codes", h.generateCode)
	mux.HandleFunc("GET /v1/targets/{id}/codes", h.listCodes)
	mux.HandleFunc("GET /v1/targets/{id}/codes/active", h.activeCode)
	mux.HandleFunc("POST /v1/codes/{id}/activate", h.activateCode)
	mux.HandleFunc("POST /v1/codes/{id}/deactivate", h.deactivateCode)
	mux.HandleFunc("GET /v1/codes/lookup", h.lookupCode)
	mux.HandleFunc("GET /healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) submitAttendance(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeAttendanceWrite)
	if !ok {
		return
	}

	var req SubmitAttendanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeValidationError(w, err)
		return
	}

	action, err := domain.ParseAction(req.Action)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	admission, err := h.pipeline.Submit(r.Context(), domain.SubmitInput{
		Code:   strings.TrimSpace(req.Code),
		Action: action,
		Payload: domain.GeoPayload{
			Latitude:  *req.Payload.Latitude,
			Longitude: *req.Payload.Longitude,
			Timestamp: req.Payload.Timestamp,
			DeviceID:  req.Payload.DeviceID,
		},
		Signature:   req.Signature,
		Participant: participantOf(claims),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusOK
	if admission.Action == domain.ActionCheckIn {
		status = http.StatusCreated
	}
	writeJSON(w, status, SubmitAttendanceResponse{
		Action:     string(admission.Action),
		Attendance: toAttendanceView(admission.Record),
		Target:     toTargetView(admission.Target),
		Event:      toEventView(admission.Event),
	})
}

func (h *Handler) previewAdmission(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeAttendanceWrite)
	if !ok {
		return
	}

	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing code parameter")
		return
	}

	preview, err := h.pipeline.Preview(r.Context(), code, participantOf(claims))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := PreviewResponse{
		NextAction:  string(preview.NextAction),
		EligibleNow: preview.Eligible,
		Target:      toTargetView(preview.Target),
		Event:       toEventView(preview.Event),
	}
	if preview.Reason != nil {
		resp.Reason = errorBody(preview.Reason)
	}
	if preview.Record != nil {
		view := toAttendanceView(*preview.Record)
		resp.Attendance = &view
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) attendanceHistory(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeAttendanceRead, auth.ScopeAttendanceWrite)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = min(parsed, maxHistoryLimit)
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	records, next, err := h.attendance.History(r.Context(), claims.Subject, cursor, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, AttendanceListResponse{
		Items:      toAttendanceViews(records),
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) eventAttendance(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, auth.ScopeCodesAdmin); !ok {
		return
	}

	records, err := h.attendance.ByEvent(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AttendanceListResponse{Items: toAttendanceViews(records)})
}

func (h *Handler) generateCode(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, auth.ScopeCodesAdmin); !ok {
		return
	}

	code, err := h.codes.Generate(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCodeView(*code))
}

func (h *Handler) listCodes(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, auth.ScopeCodesAdmin); !ok {
		return
	}

	codes, err := h.codes.List(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]CodeView, 0, len(codes))
	for _, code := range codes {
		items = append(items, toCodeView(code))
	}
	writeJSON(w, http.StatusOK, CodeListResponse{Items: items})
}

func (h *Handler) activeCode(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, auth.ScopeCodesAdmin); !ok {
		return
	}

	code, err := h.codes.Active(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCodeView(*code))
}

func (h *Handler) activateCode(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, auth.ScopeCodesAdmin); !ok {
		return
	}

	code, err := h.codes.Activate(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCodeView(*code))
}

func (h *Handler) deactivateCode(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, auth.ScopeCodesAdmin); !ok {
		return
	}

	code, err := h.codes.Deactivate(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCodeView(*code))
}

func (h *Handler) lookupCode(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r); !ok {
		return
	}

	value := strings.TrimSpace(r.URL.Query().Get("code"))
	if value == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing code parameter")
		return
	}

	code, err := h.codes.Lookup(r.Context(), value)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCodeView(*code))
}

// requireScope loads the caller's claims and checks that at least one of scopes
// was granted. With no scopes any authenticated caller passes.
func requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if len(scopes) == 0 {
		return claims, true
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return claims, true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+scopes[0]+" required")
	return nil, false
}

func participantOf(claims *auth.Claims) domain.Participant {
	return domain.Participant{ID: claims.Subject, Name: claims.Name}
}

// statusFor maps an admission error kind to its HTTP status.
func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindCodeInactive:
		return http.StatusGone
	case domain.KindAuthenticationFailure:
		return http.StatusUnauthorized
	case domain.KindOutOfRange:
		return http.StatusForbidden
	case domain.KindStaleSubmission, domain.KindWindowClosed, domain.KindWindowExpired:
		return http.StatusUnprocessableEntity
	case domain.KindDuplicateCheckIn, domain.KindDuplicateCheckOut, domain.KindCheckInRequired,
		domain.KindAlreadyActive, domain.KindAlreadyInactive:
		return http.StatusConflict
	case domain.KindInvalidAction:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	var derr *domain.Error
	if !errors.As(err, &derr) {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, statusFor(derr.Kind), errorBody(derr))
}

// errorBody flattens a domain error into the problem payload, structured fields
// alongside type and detail.
func errorBody(err *domain.Error) map[string]any {
	body := make(map[string]any, len(err.Fields)+2)
	for key, value := range err.Fields {
		body[key] = value
	}
	body["type"] = string(err.Kind)
	body["detail"] = err.Error()
	return body
}

func writeValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Namespace()+" failed "+fe.Tag())
	}
	writeError(w, http.StatusBadRequest, "validation_failed", strings.Join(fields, "; "))
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

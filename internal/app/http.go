package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"stepform/api/internal/auth"
	"stepform/api/internal/search"
	"stepform/api/internal/util"
)

type HTTPServer struct {
	service    *Service
	search     *search.Service
	corsOrigin string
}

// NewHTTPServer wires the transport. search may be nil; the question library
// endpoint then falls back to a plain list.
func NewHTTPServer(service *Service, searchSvc *search.Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, search: searchSvc, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.SignIn(r.Context(), body.Email, body.Password)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	parts := splitPath(r.URL.Path)

	// Public read path: the live questionnaire of a service, resolved
	// into steps. No authentication required.
	if len(parts) == 4 && parts[0] == "api" && parts[1] == "services" && parts[3] == "questionnaire" && r.Method == http.MethodGet {
		serviceID, ok := parseID(w, parts[2])
		if !ok {
			return
		}
		questionnaire, plan, err := s.service.ResolveForService(r.Context(), serviceID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"questionnaire": questionnaire, "plan": plan})
		return
	}

	editor, ok := s.requireEditor(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/questions" {
		s.handleQuestionLibrary(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/questions" {
		var body QuestionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		question, err := s.service.CreateQuestion(r.Context(), editor, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"question": question})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/questionnaires" {
		var body struct {
			ServiceID   int64  `json:"serviceId"`
			Title       string `json:"title"`
			Description string `json:"description"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		questionnaire, err := s.service.CreateQuestionnaire(r.Context(), editor, body.ServiceID, body.Title, body.Description)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"questionnaire": questionnaire})
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "services" && parts[3] == "questionnaires" && r.Method == http.MethodGet {
		serviceID, ok := parseID(w, parts[2])
		if !ok {
			return
		}
		items, err := s.service.ListQuestionnaires(r.Context(), serviceID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"questionnaires": items})
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "questionnaires" {
		questionnaireID, ok := parseID(w, parts[2])
		if !ok {
			return
		}
		s.handleQuestionnaire(w, r, editor, questionnaireID, parts)
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "groups" {
		groupID, ok := parseID(w, parts[2])
		if !ok {
			return
		}
		s.handleGroup(w, r, editor, groupID)
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "questions" && r.Method == http.MethodPatch {
		questionID, ok := parseID(w, parts[2])
		if !ok {
			return
		}
		var body QuestionEdit
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		question, err := s.service.EditQuestionMetadata(r.Context(), editor, questionID, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"question": question})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleQuestionLibrary(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		items, err := s.service.ListQuestions(r.Context(), 100)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"questions": items})
		return
	}
	if s.search == nil {
		writeJSON(w, http.StatusOK, search.Response{Results: []search.Result{}, Total: 0, Query: query})
		return
	}

	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be a positive integer", nil)
			return
		}
		limit = parsed
	}
	offset := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must not be negative", nil)
			return
		}
		offset = parsed
	}

	writeJSON(w, http.StatusOK, s.search.Search(search.Query{
		Text:       query,
		FilterType: strings.TrimSpace(r.URL.Query().Get("type")),
		Limit:      limit,
		Offset:     offset,
	}))
}

func (s *HTTPServer) handleQuestionnaire(w http.ResponseWriter, r *http.Request, editor Editor, questionnaireID int64, parts []string) {
	if len(parts) == 4 && parts[3] == "plan" && r.Method == http.MethodGet {
		plan, err := s.service.ResolvePlan(r.Context(), questionnaireID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"plan": plan})
		return
	}

	if len(parts) == 4 && parts[3] == "history" && r.Method == http.MethodGet {
		limit := 50
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				limit = parsed
			}
		}
		revisions, err := s.service.History(r.Context(), questionnaireID, limit)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"revisions": revisions})
		return
	}

	if len(parts) == 5 && parts[3] == "history" && r.Method == http.MethodGet {
		composition, err := s.service.RevisionComposition(r.Context(), questionnaireID, parts[4])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"composition": composition})
		return
	}

	if len(parts) == 4 && parts[3] == "status" && r.Method == http.MethodPost {
		var body struct {
			Status string `json:"status"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.ChangeQuestionnaireStatus(r.Context(), editor, questionnaireID, body.Status); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 4 && parts[3] == "questions" && r.Method == http.MethodPost {
		var body struct {
			QuestionID int64  `json:"questionId"`
			GroupID    *int64 `json:"groupId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.AttachQuestion(r.Context(), editor, questionnaireID, body.QuestionID, body.GroupID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 5 && parts[3] == "questions" && r.Method == http.MethodDelete {
		questionID, ok := parseID(w, parts[4])
		if !ok {
			return
		}
		if err := s.service.DeleteQuestion(r.Context(), editor, questionnaireID, questionID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 4 && parts[3] == "reorder" && r.Method == http.MethodPost {
		var body struct {
			QuestionID  int64  `json:"questionId"`
			GroupID     *int64 `json:"groupId"`
			TargetIndex int    `json:"targetIndex"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.ReorderMembership(r.Context(), editor, questionnaireID, body.QuestionID, body.GroupID, body.TargetIndex); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 4 && parts[3] == "groups" && r.Method == http.MethodPost {
		var body struct {
			Name        string  `json:"name"`
			QuestionIDs []int64 `json:"questionIds"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		group, err := s.service.CreateGroupFromQuestions(r.Context(), editor, questionnaireID, body.QuestionIDs, body.Name)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"group": group})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleGroup(w http.ResponseWriter, r *http.Request, editor Editor, groupID int64) {
	if r.Method == http.MethodPatch {
		var body struct {
			Name        *string `json:"name"`
			Description *string `json:"description"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		group, err := s.service.EditGroupMetadata(r.Context(), editor, groupID, body.Name, body.Description)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"group": group})
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.service.DeleteGroup(r.Context(), editor, groupID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

// requireEditor authenticates the request: a valid bearer token, and for
// mutating methods the X-CSRF-Token header must match the token's claim.
func (s *HTTPServer) requireEditor(w http.ResponseWriter, r *http.Request) (Editor, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Editor{}, false
	}
	claims, err := s.service.EditorFromToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Editor{}, false
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		if strings.TrimSpace(r.Header.Get("X-CSRF-Token")) != claims.CSRF {
			writeError(w, http.StatusForbidden, "CSRF_MISMATCH", "CSRF token mismatch", nil)
			return Editor{}, false
		}
	}
	return Editor{ID: claims.EditorID, Name: claims.Name, Role: claims.Role}, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewToken()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func parseID(w http.ResponseWriter, raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "id must be a positive integer", nil)
		return 0, false
	}
	return id, true
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "STORAGE_ERROR", "Storage error", nil
}

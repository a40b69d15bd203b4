package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
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
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/annos" {
		s.handleList(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/annos" {
		s.handleCreate(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/annos/duplicate-check" {
		s.handleDuplicateCheck(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/admin/reindex" {
		count, err := s.service.Reindex(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "indexed": count})
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "annos" {
		id, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, CodeValidation, "anno id must be an integer", nil)
			return
		}
		s.handleAnno(w, r, id)
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "annos" {
		id, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, CodeValidation, "anno id must be an integer", nil)
			return
		}
		s.handleAnnoAction(w, r, id, parts[3])
		return
	}

	writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
}

func (s *HTTPServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	userName, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var body AnnoRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	view, err := s.service.CreateAnno(r.Context(), userName, body)
	if err != nil {
		if degraded, ok := inconsistency(err); ok {
			writeJSON(w, http.StatusCreated, map[string]any{"anno": view, "degraded": true, "warning": degraded.Message})
			return
		}
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"anno": view})
}

func (s *HTTPServer) handleDuplicateCheck(w http.ResponseWriter, r *http.Request) {
	userName, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var body AnnoRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	existing, err := s.service.DuplicateCheck(r.Context(), userName, body)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	if existing == nil {
		writeJSON(w, http.StatusOK, map[string]any{"duplicate": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"duplicate": true, "anno": existing})
}

func (s *HTTPServer) handleAnno(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method == http.MethodGet {
		view, err := s.service.GetAnno(r.Context(), id)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"anno": view})
		return
	}

	if r.Method == http.MethodPut {
		var body AnnoRequest
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err := s.service.UpdateAnno(r.Context(), id, body)
		if err != nil {
			if degraded, ok := inconsistency(err); ok {
				writeJSON(w, http.StatusOK, map[string]any{"anno": view, "degraded": true, "warning": degraded.Message})
				return
			}
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"anno": view})
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.service.DeleteAnno(r.Context(), id); err != nil {
			if degraded, ok := inconsistency(err); ok {
				writeJSON(w, http.StatusOK, map[string]any{"ok": true, "degraded": true, "warning": degraded.Message})
				return
			}
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleAnnoAction(w http.ResponseWriter, r *http.Request, id int64, action string) {
	if action == "image" && r.Method == http.MethodGet {
		data, err := s.service.Image(r.Context(), id)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	if (action == "vote" || action == "flag" || action == "followup") && r.Method == http.MethodPost {
		view, err := s.service.BumpCounter(r.Context(), id, action)
		if err != nil {
			if degraded, ok := inconsistency(err); ok {
				writeJSON(w, http.StatusOK, map[string]any{"anno": view, "degraded": true, "warning": degraded.Message})
				return
			}
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"anno": view})
		return
	}

	writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
}

func (s *HTTPServer) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	mode := strings.TrimSpace(query.Get("mode"))
	if mode == "" {
		mode = "recent"
	}
	appName := strings.TrimSpace(query.Get("app"))
	switch mode {
	case "recent", "votes", "flags", "activity", "last_activity", "country":
		if appName == "" {
			writeError(w, http.StatusUnprocessableEntity, CodeValidation, "app is required for mode="+mode, nil)
			return
		}
	}

	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, CodeValidation, "limit must be an integer", nil)
			return
		}
		limit = parsed
	}
	cursor := strings.TrimSpace(query.Get("cursor"))

	var projection []string
	if raw := strings.TrimSpace(query.Get("fields")); raw != "" {
		for _, field := range strings.Split(raw, ",") {
			if field = strings.TrimSpace(field); field != "" {
				projection = append(projection, field)
			}
		}
	}

	var (
		payload AnnoListResponse
		err     error
	)
	switch mode {
	case "recent":
		payload, err = s.service.ListByAppRecency(r.Context(), appName, limit, cursor, projection)
	case "page":
		payload, err = s.service.ListPage(r.Context(), limit, cursor, projection)
	case "votes":
		payload, err = s.service.ListByVoteCount(r.Context(), appName)
	case "flags":
		payload, err = s.service.ListByFlagCount(r.Context(), appName)
	case "activity":
		payload, err = s.service.ListByActivityCount(r.Context(), appName)
	case "last_activity":
		payload, err = s.service.ListByLastActivity(r.Context(), appName)
	case "country":
		payload, err = s.service.ListByCountry(r.Context(), appName)
	case "mine":
		userName, ok := s.requireUser(w, r)
		if !ok {
			return
		}
		payload, err = s.service.ListMine(r.Context(), userName)
	default:
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "unknown list mode", mode)
		return
	}
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	params := SearchParams{
		Text:    strings.TrimSpace(query.Get("text")),
		AppName: strings.TrimSpace(query.Get("app")),
	}
	// An apps parameter that is present but empty is an empty set, which
	// matches nothing. An absent parameter means no app restriction.
	if query.Has("apps") {
		params.AppSet = []string{}
		for _, app := range strings.Split(query.Get("apps"), ",") {
			if app = strings.TrimSpace(app); app != "" {
				params.AppSet = append(params.AppSet, app)
			}
		}
	}

	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, CodeValidation, "limit must be an integer", nil)
			return
		}
		params.Limit = parsed
	}
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, CodeValidation, "offset must be an integer", nil)
			return
		}
		params.Offset = parsed
	}

	order := strings.TrimSpace(query.Get("order"))
	if order == "" {
		order = "recent"
	}

	var (
		payload AnnoListResponse
		err     error
	)
	switch order {
	case "recent":
		payload, err = s.service.SearchRecent(r.Context(), params)
	case "popular":
		payload, err = s.service.SearchPopular(r.Context(), params)
	case "active":
		payload, err = s.service.SearchActive(r.Context(), params)
	default:
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "order must be recent, popular or active", nil)
		return
	}
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userName := strings.TrimSpace(r.Header.Get("X-Anno-User"))
	if userName == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "X-Anno-User header is required", nil)
		return "", false
	}
	return userName, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
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

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Anno-User, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
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

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// inconsistency reports whether err is a dual-write inconsistency, which
// rides along with a successful payload instead of replacing it.
func inconsistency(err error) (*DomainError, bool) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) && domainErr.Code == CodeInconsistency {
		return domainErr, true
	}
	return nil, false
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, CodeNotFound, "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

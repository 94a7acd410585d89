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

	"ignite/api/internal/store"
	"ignite/api/internal/transcripts"
	"ignite/api/internal/util"
	"ignite/api/internal/workbook"
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

// fieldRef is the request shape addressing one workbook field.
type fieldRef struct {
	Step     int    `json:"step"`
	Variant  int    `json:"variant"`
	Section  string `json:"section"`
	Question string `json:"question"`
}

func (f fieldRef) key(userID string) workbook.Key {
	return workbook.NewKey(userID, f.Step, f.Variant, f.Section, f.Question)
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

	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/workbook/responses" {
		step := queryInt(r, "step", 0)
		variant := queryInt(r, "variant", 1)
		if step <= 0 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "step is required", nil)
			return
		}
		records, err := s.service.LoadResponses(r.Context(), userID, step, variant)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"responses": records})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/workbook/track" {
		var body struct {
			fieldRef
			Value    string `json:"value"`
			Original string `json:"original"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		state := s.service.TrackChange(userID, body.key(userID), body.Value, body.Original)
		writeJSON(w, http.StatusOK, state)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/workbook/stage" {
		var body struct {
			fieldRef
			Value string `json:"value"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		state := s.service.StageOptimistic(userID, body.key(userID), body.Value)
		writeJSON(w, http.StatusOK, state)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/workbook/resolve" {
		state := s.service.Resolve(userID, queryFieldRef(r).key(userID))
		writeJSON(w, http.StatusOK, state)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/workbook/save" {
		var body fieldRef
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		// A failed save is not an HTTP error: the edit survives and the
		// returned field state carries the error affordance for the client.
		state, _ := s.service.Save(r.Context(), userID, body.key(userID))
		writeJSON(w, http.StatusOK, state)
		return
	}

	if r.Method == http.MethodDelete && r.URL.Path == "/api/workbook/responses" {
		ref := queryFieldRef(r)
		if ref.Step <= 0 || ref.Section == "" || ref.Question == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "step, section and question are required", nil)
			return
		}
		if err := s.service.DeleteResponse(r.Context(), userID, ref.key(userID)); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/workbook/unsaved" {
		writeJSON(w, http.StatusOK, map[string]any{"changes": s.service.UnsavedChanges(userID)})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/workbook/discard" {
		var body fieldRef
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusOK, s.service.DiscardEdit(userID, body.key(userID)))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/workbook/save-state" {
		state := s.service.Resolve(userID, queryFieldRef(r).key(userID))
		writeJSON(w, http.StatusOK, map[string]any{"saveState": state.SaveState})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/workbook/sections/status" {
		status, err := s.service.SectionStatus(r.Context(), userID, queryInt(r, "step", 0), queryInt(r, "variant", 1), r.URL.Query().Get("section"))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/workbook/sections/check" {
		var body fieldRef
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		marked, err := s.service.CheckSection(r.Context(), userID, body.Step, variantOrDefault(body.Variant), body.Section)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"marked": marked})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/workbook/sections/mark" {
		var body fieldRef
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.MarkSection(r.Context(), userID, body.Step, variantOrDefault(body.Variant), body.Section); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/workbook/sections/unmark" {
		var body fieldRef
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.UnmarkSection(r.Context(), userID, body.Step, variantOrDefault(body.Variant), body.Section); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/workbook/completions" {
		marks, err := s.service.Completions(r.Context(), userID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"completions": marks})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/workbook/steps/status" {
		step := queryInt(r, "step", 0)
		variant := queryInt(r, "variant", 1)
		writeJSON(w, http.StatusOK, map[string]any{
			"step":     step,
			"variant":  variant,
			"complete": s.service.StepComplete(userID, step, variant),
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/workbook/steps/confirm" {
		var body struct {
			Step    int `json:"step"`
			Variant int `json:"variant"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.ConfirmStep(r.Context(), userID, body.Step, variantOrDefault(body.Variant)); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/workbook/migrate" {
		var body struct {
			Step int `json:"step"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		migrated, err := s.service.MigrateLegacy(r.Context(), userID, body.Step)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"migrated": migrated})
		return
	}

	if r.Method == http.MethodDelete && r.URL.Path == "/api/workbook/session" {
		s.service.EndSession(userID)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/transcripts" {
		items, err := s.service.ListTranscripts(r.Context(), userID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		if items == nil {
			items = []store.Transcript{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"transcripts": items})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/transcripts" {
		var body struct {
			Title   string `json:"title"`
			Content string `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if strings.TrimSpace(body.Content) == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
			return
		}
		item, err := s.service.CreateTranscript(r.Context(), userID, body.Title, body.Content)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, item)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "transcripts" {
		transcriptID := parts[2]

		if r.Method == http.MethodGet && len(parts) == 3 {
			item, err := s.service.GetTranscript(r.Context(), userID, transcriptID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, item)
			return
		}

		if r.Method == http.MethodPut && len(parts) == 3 {
			var body struct {
				Title   string `json:"title"`
				Content string `json:"content"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			item, err := s.service.UpdateTranscript(r.Context(), userID, transcriptID, body.Title, body.Content)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, item)
			return
		}

		if r.Method == http.MethodDelete && len(parts) == 3 {
			if err := s.service.DeleteTranscript(r.Context(), userID, transcriptID); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}

		if r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "process" {
			item, err := s.service.ProcessTranscript(r.Context(), userID, transcriptID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, item)
			return
		}

		if r.Method == http.MethodGet && len(parts) == 4 && parts[3] == "artifact" {
			text, err := s.service.TranscriptArtifact(r.Context(), userID, transcriptID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"content": text})
			return
		}
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		text := r.URL.Query().Get("q")
		if strings.TrimSpace(text) == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil)
			return
		}
		response := s.service.Search(userID, text, queryInt(r, "limit", 0), queryInt(r, "offset", 0))
		writeJSON(w, http.StatusOK, response)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get("X-Ignite-User"))
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return "", false
	}
	return userID, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewRequestID()
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
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Ignite-User")
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

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
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

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func queryFieldRef(r *http.Request) fieldRef {
	return fieldRef{
		Step:     queryInt(r, "step", 0),
		Variant:  queryInt(r, "variant", 1),
		Section:  r.URL.Query().Get("section"),
		Question: r.URL.Query().Get("question"),
	}
}

func variantOrDefault(variant int) int {
	if variant < 1 {
		return 1
	}
	return variant
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, workbook.ErrUnknownSection) {
		return http.StatusUnprocessableEntity, "UNKNOWN_SECTION", "Unknown section", nil
	}
	if errors.Is(err, workbook.ErrStepIncomplete) {
		return http.StatusUnprocessableEntity, "STEP_INCOMPLETE", "All sections must be marked complete first", nil
	}
	if errors.Is(err, transcripts.ErrBusy) {
		return http.StatusConflict, "TRANSCRIPT_BUSY", "Transcript is being processed", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

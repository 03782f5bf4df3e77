package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/outerlook/vibe-kanban-sub002/internal/domain"
)

func TestWriteDomainErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not found", fmt.Errorf("task x: %w", domain.ErrNotFound), http.StatusNotFound},
		{"conflict", fmt.Errorf("duplicate: %w", domain.ErrConflict), http.StatusConflict},
		{"validation", fmt.Errorf("bad field: %w", domain.ErrValidation), http.StatusBadRequest},
		{"cycle", fmt.Errorf("edge a -> b closes cycle [a b]: %w", domain.ErrCycleDetected), http.StatusConflict},
		{"protocol", fmt.Errorf("still pending: %w", domain.ErrProtocol), http.StatusInternalServerError},
		{"unknown", fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeDomainError(rec, tt.err, "fallback message")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}

			var body errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Error == "" {
				t.Fatalf("empty error body")
			}
		})
	}
}

func TestWriteDomainErrorCycleKeepsPath(t *testing.T) {
	rec := httptest.NewRecorder()
	writeDomainError(rec, fmt.Errorf("edge a -> b closes cycle [a b a]: %w", domain.ErrCycleDetected), "fallback")

	var body errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error == "fallback" {
		t.Fatalf("cycle message replaced by fallback")
	}
}

func TestReadJSONRejectsGarbage(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", nil)

	type payload struct {
		Name string `json:"name"`
	}
	if _, ok := readJSON[payload](rec, req); ok {
		t.Fatalf("empty body accepted")
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

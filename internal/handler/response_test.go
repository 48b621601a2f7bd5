package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/freeeve/kriegsim/pkg/battle"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusCreated, map[string]int{"turn": 4})

	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type=application/json, got %s", ct)
	}
	var result map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result["turn"] != 4 {
		t.Errorf("unexpected body: %v", result)
	}
}

func TestWriteJSONEmptySlice(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, []struct{}{})
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("expected [], got %s", body)
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusBadRequest, "missing field")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	body := strings.TrimSpace(rec.Body.String())
	if body != `{"error":"missing field"}` {
		t.Errorf("unexpected body %s", body)
	}
}

func TestWriteRejection(t *testing.T) {
	b, err := battle.New(battle.DefaultDeployment(), battle.DefaultRules())
	if err != nil {
		t.Fatal(err)
	}
	_, stepErr := b.Step(battle.ActionSpace)
	kind := battle.RejectionKind(stepErr)
	if kind == nil {
		t.Fatalf("expected a rejection, got %v", stepErr)
	}

	rec := httptest.NewRecorder()
	writeRejection(rec, stepErr, kind)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rec.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Kind != battle.ErrInvalidActionIndex.Error() || body.Error == "" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestDecodeJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"action":1933}`))
	var data struct {
		Action *int `json:"action"`
	}
	if err := decodeJSON(req, &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if data.Action == nil || *data.Action != 1933 {
		t.Errorf("unexpected action %v", data.Action)
	}
}

func TestDecodeJSONBadBodies(t *testing.T) {
	var data struct{}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not json"))
	if err := decodeJSON(req, &data); err == nil {
		t.Error("expected error for invalid JSON")
	}
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	if err := decodeJSON(req, &data); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF for an empty body, got %v", err)
	}
}

func TestQueryInt(t *testing.T) {
	tests := []struct {
		query    string
		required bool
		want     int
		wantErr  bool
	}{
		{"", false, 50, false},
		{"", true, 0, true},
		{"n=7", false, 7, false},
		{"n=0", false, 0, true},
		{"n=x", false, 0, true},
		{"n=-3", true, 0, true},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
		got, err := queryInt(req, "n", 50, 1, tt.required)
		if (err != nil) != tt.wantErr || (!tt.wantErr && got != tt.want) {
			t.Errorf("queryInt(%q, required=%v) = %d, %v", tt.query, tt.required, got, err)
		}
	}
}

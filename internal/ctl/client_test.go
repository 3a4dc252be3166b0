package ctl

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetJSONDecodesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"idle","sdr_connected":true}`))
	}))
	defer srv.Close()

	var got statusResponse
	if err := getJSON(srv.URL, "/api/status", &got); err != nil {
		t.Fatalf("getJSON: %v", err)
	}
	if got.Status != "idle" || !got.SDRConnected {
		t.Fatalf("unexpected decode: %+v", got)
	}
}

func TestPostJSONRelaysCommandResultOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error":"unknown catalog id: 1"}`))
	}))
	defer srv.Close()

	var result commandResult
	if err := postJSON(srv.URL, "/api/trigger", map[string]int{"catalog_id": 1}, &result); err != nil {
		t.Fatalf("postJSON: %v", err)
	}
	if result.OK || result.Error == "" {
		t.Fatalf("expected decoded error result, got %+v", result)
	}
}

package submitsdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTriggerJobUsesCronSecret(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{
			"job":      "judgment",
			"judgment": map[string]any{"processed": 2},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.CronSecret = "cron"
	c.BearerToken = "user"
	res, err := c.TriggerJob(context.Background(), "judgment")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if gotPath != "/v1/cron/judgment" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer cron" {
		t.Fatalf("expected cron secret, got %q", gotAuth)
	}
	if res.Job != "judgment" || res.Judgment["processed"] != float64(2) {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":"pledge_required"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "user"
	_, err := c.Submit(context.Background(), "p1", "hello")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", apiErr.StatusCode)
	}
}

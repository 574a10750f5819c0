package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type mockRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
	err     error
}

func (m *mockRecorder) RecordAccess(entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

const jobID = "0b9d8a4e-2c1f-4d3b-9f7e-1a2b3c4d5e6f"

func TestAudit_RecordsStatusChange(t *testing.T) {
	rec := &mockRecorder{}
	c, _ := newTestContext(http.MethodPost, "/api/v1/oncall/jobs/"+jobID+"/status", nil)
	withUser(c, "dr-night", "physician")
	c.Set("request_id", "req-1")

	if err := Audit(zerolog.Nop(), rec)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("expected 1 entry, got %d", rec.count())
	}
	e := rec.entries[0]
	if e.UserID != "dr-night" || e.Collection != "jobs" || e.RecordID != jobID || e.Action != "status" {
		t.Errorf("unexpected entry: %+v", e)
	}
	if e.RequestID != "req-1" || e.StatusCode != http.StatusOK {
		t.Errorf("unexpected request metadata: %+v", e)
	}
}

func TestAudit_SkipsReadsAndOtherPaths(t *testing.T) {
	rec := &mockRecorder{}
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/oncall/jobs"},
		{http.MethodPost, "/health"},
		{http.MethodPost, "/api/v1/other"},
	} {
		c, _ := newTestContext(tc.method, tc.path, nil)
		Audit(zerolog.Nop(), rec)(okHandler)(c)
	}
	if rec.count() != 0 {
		t.Fatalf("expected no entries, got %d", rec.count())
	}
}

func TestAudit_CapturesHTTPErrorStatus(t *testing.T) {
	rec := &mockRecorder{}
	c, _ := newTestContext(http.MethodDelete, "/api/v1/oncall/list/"+jobID, nil)
	handler := func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusForbidden, "no")
	}

	err := Audit(zerolog.Nop(), rec)(handler)(c)
	if err == nil {
		t.Fatal("expected handler error to pass through")
	}
	if got := rec.entries[0]; got.StatusCode != http.StatusForbidden || got.Action != "remove" {
		t.Errorf("unexpected entry: %+v", got)
	}
}

func TestAudit_RecorderErrorDoesNotBreakRequest(t *testing.T) {
	var buf bytes.Buffer
	rec := &mockRecorder{err: errors.New("disk full")}
	c, _ := newTestContext(http.MethodPost, "/api/v1/oncall/handover/acknowledge", nil)

	if err := Audit(zerolog.New(&buf), rec)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "failed to record audit entry") {
		t.Errorf("expected recorder failure to be logged, got %s", buf.String())
	}
	if !strings.Contains(buf.String(), `"action":"acknowledge"`) {
		t.Errorf("expected audit line, got %s", buf.String())
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		method, path               string
		collection, record, action string
	}{
		{http.MethodPost, "/api/v1/oncall/jobs", "jobs", "", "create"},
		{http.MethodPost, "/api/v1/oncall/jobs/" + jobID + "/status", "jobs", jobID, "status"},
		{http.MethodPut, "/api/v1/oncall/jobs/" + jobID + "/note", "jobs", jobID, "note"},
		{http.MethodPost, "/api/v1/oncall/list", "list", "", "create"},
		{http.MethodPatch, "/api/v1/oncall/list/" + jobID, "list", jobID, "update"},
		{http.MethodDelete, "/api/v1/oncall/list/" + jobID, "list", jobID, "remove"},
		{http.MethodPost, "/api/v1/oncall/handover/acknowledge", "handover", "", "acknowledge"},
		{http.MethodPost, "/api/v1/oncall/", "unknown", "", "create"},
	}
	for _, tt := range tests {
		coll, rec, act := describe(tt.method, tt.path)
		if coll != tt.collection || rec != tt.record || act != tt.action {
			t.Errorf("describe(%s %s) = %q %q %q", tt.method, tt.path, coll, rec, act)
		}
	}
}

func TestAuditRecorderFunc(t *testing.T) {
	called := false
	f := AuditRecorderFunc(func(AuditEntry) error {
		called = true
		return nil
	})
	if err := f.RecordAccess(AuditEntry{}); err != nil || !called {
		t.Fatal("expected adapter to call through")
	}
}

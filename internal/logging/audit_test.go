package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestAuditEventLifecycle(t *testing.T) {
	event := NewAuditEvent(LinkSaved, "saveLink", StatusSuccess).
		WithUser("octocat").
		WithIPAddress("127.0.0.1").
		WithResource("octocat/linkstash-sync").
		WithDetail("url", "https://go.dev")

	if event.User != "octocat" || event.IPAddress != "127.0.0.1" {
		t.Fatalf("expected user and ip to be set")
	}
	if event.Severity != SeverityInfo {
		t.Fatalf("expected default severity info, got %s", event.Severity)
	}

	event.WithError(errors.New("boom"))
	if event.Status != StatusFailure {
		t.Fatalf("expected status to be failure")
	}
	if event.Severity != SeverityError {
		t.Fatalf("expected severity error, got %s", event.Severity)
	}

	jsonStr := event.ToJSON()
	if !strings.Contains(jsonStr, "saveLink") {
		t.Fatalf("expected json output to contain action")
	}

	parsed, err := ParseAuditEvent(jsonStr)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if parsed.Action != event.Action || parsed.EventType != LinkSaved {
		t.Fatalf("expected parsed event to match")
	}
}

func TestAuditEventWithNilError(t *testing.T) {
	event := NewAuditEvent(AuthSuccess, "checkAuth", StatusSuccess).WithError(nil)
	if event.Status != StatusSuccess || event.ErrorMessage != "" {
		t.Fatalf("expected nil error to leave event untouched")
	}
}

func TestAuditEventWarningSeverityKept(t *testing.T) {
	event := NewAuditEvent(AuthFailure, "startAuth", StatusFailure).
		WithSeverity(SeverityWarning).
		WithError(errors.New("denied"))
	if event.Severity != SeverityWarning {
		t.Fatalf("expected warning severity to be preserved")
	}
}

func TestAuditEventJSONErrors(t *testing.T) {
	event := NewAuditEvent(APIAccess, "call", StatusSuccess)
	event.Details = map[string]interface{}{"bad": func() {}}
	if !strings.Contains(event.ToJSON(), "failed to marshal audit event") {
		t.Fatalf("expected marshal failure message")
	}

	if _, err := ParseAuditEvent("{invalid json"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLogAuditSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogAuditSink(NewLogger(WithOutput(&buf), WithLevel(LevelDebug)))

	sink.Record(NewAuditEvent(TokenCleared, "logout", StatusSuccess))
	entry := decodeLastLog(t, buf.Bytes())
	if entry["level"] != string(LevelInfo) {
		t.Fatalf("expected info level, got %v", entry["level"])
	}
	fields := entry["fields"].(map[string]interface{})
	if fields["event_type"] != string(TokenCleared) || fields["audit"] != true {
		t.Fatalf("unexpected audit fields: %v", fields)
	}

	sink.Record(NewAuditEvent(SyncFailure, "saveLink", StatusFailure).WithError(errors.New("conflict")))
	entry = decodeLastLog(t, buf.Bytes())
	if entry["level"] != string(LevelError) {
		t.Fatalf("expected error level, got %v", entry["level"])
	}
	fields = entry["fields"].(map[string]interface{})
	if fields["error"] != "conflict" {
		t.Fatalf("expected error field, got %v", fields["error"])
	}

	before := buf.Len()
	sink.Record(nil)
	NopAuditSink{}.Record(NewAuditEvent(APIAccess, "x", StatusSuccess))
	if buf.Len() != before {
		t.Fatalf("expected nil event to be ignored")
	}
}

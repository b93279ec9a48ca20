package logging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditEventType represents the type of audit event
type AuditEventType string

const (
	AuthSuccess  AuditEventType = "AUTH_SUCCESS"
	AuthFailure  AuditEventType = "AUTH_FAILURE"
	TokenCleared AuditEventType = "TOKEN_CLEARED"

	LinkSaved   AuditEventType = "LINK_SAVED"
	SyncFailure AuditEventType = "SYNC_FAILURE"

	ConfigChange AuditEventType = "CONFIG_CHANGE"

	APIAccess AuditEventType = "API_ACCESS"
)

// AuditSeverity represents the severity level of an audit event
type AuditSeverity string

const (
	SeverityInfo    AuditSeverity = "info"
	SeverityWarning AuditSeverity = "warning"
	SeverityError   AuditSeverity = "error"
)

// AuditStatus represents the status of an audited action
type AuditStatus string

const (
	StatusSuccess AuditStatus = "success"
	StatusFailure AuditStatus = "failure"
)

// AuditEvent records a user-visible state change: a login, a saved link, a cleared token.
type AuditEvent struct {
	ID           string                 `json:"id"`
	Timestamp    time.Time              `json:"timestamp"`
	EventType    AuditEventType         `json:"event_type"`
	Severity     AuditSeverity          `json:"severity"`
	User         string                 `json:"user,omitempty"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	Action       string                 `json:"action"`
	Resource     string                 `json:"resource,omitempty"`
	Status       AuditStatus            `json:"status"`
	Details      map[string]interface{} `json:"details,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
}

// NewAuditEvent creates a new audit event with a generated ID and timestamp
func NewAuditEvent(eventType AuditEventType, action string, status AuditStatus) *AuditEvent {
	return &AuditEvent{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Severity:  SeverityInfo,
		Action:    action,
		Status:    status,
	}
}

func (e *AuditEvent) WithUser(user string) *AuditEvent {
	e.User = user
	return e
}

func (e *AuditEvent) WithIPAddress(ipAddress string) *AuditEvent {
	e.IPAddress = ipAddress
	return e
}

func (e *AuditEvent) WithResource(resource string) *AuditEvent {
	e.Resource = resource
	return e
}

func (e *AuditEvent) WithSeverity(severity AuditSeverity) *AuditEvent {
	e.Severity = severity
	return e
}

// WithDetail adds a single detail entry, creating the map on first use.
func (e *AuditEvent) WithDetail(key string, value interface{}) *AuditEvent {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithError marks the event as failed. Severity is raised to error unless
// it was already set to something other than info.
func (e *AuditEvent) WithError(err error) *AuditEvent {
	if err == nil {
		return e
	}
	e.ErrorMessage = err.Error()
	e.Status = StatusFailure
	if e.Severity == "" || e.Severity == SeverityInfo {
		e.Severity = SeverityError
	}
	return e
}

// ToJSON converts the audit event to a JSON string
func (e *AuditEvent) ToJSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error": "failed to marshal audit event: %v"}`, err)
	}
	return string(data)
}

// ParseAuditEvent parses a JSON string into an AuditEvent
func ParseAuditEvent(data string) (*AuditEvent, error) {
	var event AuditEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return nil, fmt.Errorf("failed to parse audit event: %w", err)
	}
	return &event, nil
}

// AuditSink receives audit events. Implementations must not block the caller.
type AuditSink interface {
	Record(event *AuditEvent)
}

// LogAuditSink writes audit events through a Logger.
type LogAuditSink struct {
	logger *Logger
}

func NewLogAuditSink(logger *Logger) *LogAuditSink {
	if logger == nil {
		logger = Nop()
	}
	return &LogAuditSink{logger: logger.With("audit", true)}
}

func (s *LogAuditSink) Record(event *AuditEvent) {
	if event == nil {
		return
	}
	fields := []interface{}{
		"event_id", event.ID,
		"event_type", string(event.EventType),
		"action", event.Action,
		"status", string(event.Status),
	}
	if event.User != "" {
		fields = append(fields, "user", event.User)
	}
	if event.Resource != "" {
		fields = append(fields, "resource", event.Resource)
	}
	if event.IPAddress != "" {
		fields = append(fields, "ip", event.IPAddress)
	}
	for k, v := range event.Details {
		fields = append(fields, k, v)
	}

	switch event.Severity {
	case SeverityError:
		fields = append(fields, "error", event.ErrorMessage)
		s.logger.Error("audit", fields...)
	case SeverityWarning:
		if event.ErrorMessage != "" {
			fields = append(fields, "error", event.ErrorMessage)
		}
		s.logger.Warn("audit", fields...)
	default:
		s.logger.Info("audit", fields...)
	}
}

// NopAuditSink drops every event.
type NopAuditSink struct{}

func (NopAuditSink) Record(*AuditEvent) {}

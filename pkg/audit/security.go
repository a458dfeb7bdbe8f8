// Package audit provides security audit logging for SIEM consumption.
// It logs security-relevant events in structured JSON format for easy parsing
// and integration with security information and event management systems.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/pkg/identity"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventInjectionAttempt is logged when libinjection detects SQL injection
	// patterns in a filter value. Detection is report-only; parameterized
	// execution proceeds regardless.
	EventInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventTenantViolation is logged when a write or read names an organization
	// other than the caller's and is rejected.
	EventTenantViolation SecurityEventType = "tenant_scope_violation"
	// EventAuthFailure is logged when token verification or a credential check fails.
	EventAuthFailure SecurityEventType = "auth_failure"
)

// SecurityEvent represents an auditable security event with all relevant context
// for SIEM ingestion and analysis.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventID   uuid.UUID         `json:"event_id"`
	EventType SecurityEventType `json:"event_type"`
	Model     string            `json:"model,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	OrgID     string            `json:"org_id,omitempty"`
	ClientIP  string            `json:"client_ip,omitempty"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// InjectionDetails contains specifics of a detected SQL injection attempt.
type InjectionDetails struct {
	Field       string `json:"field"`
	Value       string `json:"value"`
	Fingerprint string `json:"fingerprint"` // libinjection fingerprint for pattern analysis
}

// TenantViolationDetails describes a rejected cross-tenant operation.
type TenantViolationDetails struct {
	Operation    string `json:"operation"`
	RequestedOrg string `json:"requested_org"`
}

// SecurityAuditor logs security events for SIEM consumption.
// Events are logged in structured JSON format with appropriate severity levels.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a new security auditor with a dedicated logger namespace.
// The logger is automatically configured with "security_audit" namespace for easy
// filtering in SIEM systems.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	securityLogger := logger.Named("security_audit")
	return &SecurityAuditor{logger: securityLogger}
}

// LogInjectionAttempt records a detected SQL injection pattern in a filter value.
// Logged at WARN level: execution is parameterized so the value cannot escape
// its placeholder, but the attempt itself is worth alerting on.
func (a *SecurityAuditor) LogInjectionAttempt(ctx context.Context, model string, details InjectionDetails) {
	userID, orgID := callerIdentity(ctx)

	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventID:   uuid.New(),
		EventType: EventInjectionAttempt,
		Model:     model,
		UserID:    userID,
		OrgID:     orgID,
		Details:   details,
		Severity:  "warning",
	}

	eventJSON, _ := json.Marshal(event)

	a.logger.Warn("SQL injection pattern in filter value",
		zap.String("event_json", string(eventJSON)),
		zap.String("model", model),
		zap.String("field", details.Field),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("user_id", userID),
		zap.String("org_id", orgID),
		zap.String("severity", "warning"),
	)
}

// LogTenantViolation records a rejected cross-tenant operation.
// Logged at ERROR level with "critical" severity for immediate alerting:
// a caller explicitly named an organization other than its own.
func (a *SecurityAuditor) LogTenantViolation(ctx context.Context, model string, details TenantViolationDetails) {
	userID, orgID := callerIdentity(ctx)

	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventID:   uuid.New(),
		EventType: EventTenantViolation,
		Model:     model,
		UserID:    userID,
		OrgID:     orgID,
		Details:   details,
		Severity:  "critical",
	}

	eventJSON, _ := json.Marshal(event)

	a.logger.Error("Cross-tenant operation rejected",
		zap.String("event_json", string(eventJSON)),
		zap.String("model", model),
		zap.String("operation", details.Operation),
		zap.String("requested_org", details.RequestedOrg),
		zap.String("user_id", userID),
		zap.String("org_id", orgID),
		zap.String("severity", "critical"),
	)
}

// LogAuthFailure records a failed token verification or credential check.
// Logged at WARN level; repeated failures from one client are a brute-force signal.
func (a *SecurityAuditor) LogAuthFailure(ctx context.Context, reason, clientIP string) {
	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventID:   uuid.New(),
		EventType: EventAuthFailure,
		ClientIP:  clientIP,
		Details:   map[string]string{"reason": reason},
		Severity:  "warning",
	}

	eventJSON, _ := json.Marshal(event)

	a.logger.Warn("Authentication failure",
		zap.String("event_json", string(eventJSON)),
		zap.String("reason", reason),
		zap.String("client_ip", clientIP),
		zap.String("severity", "warning"),
	)
}

func callerIdentity(ctx context.Context) (userID, orgID string) {
	uc, ok := identity.GetUserContext(ctx)
	if !ok {
		return "", ""
	}
	return uc.UserID(), uc.OrgID
}

// Package types defines the shared domain model for the reportflow platform:
// scheduled reports, dashboard templates, generated artifacts, and the
// delivery history rows written by the email pipeline. It also holds the
// cross-cutting error and pagination types used by every other package.
package types

import (
	"regexp"
	"strings"
	"time"
)

// ReportStatus is the lifecycle status of a scheduled report.
type ReportStatus string

const (
	ReportStatusActive   ReportStatus = "active"
	ReportStatusInactive ReportStatus = "inactive"
	ReportStatusDeleted  ReportStatus = "deleted"
)

// ScheduledReport is a recurring report definition owned by a user. The
// Recipients column is stored as a comma-delimited string but is semantically
// an ordered list of email addresses; use RecipientList to split it.
type ScheduledReport struct {
	ID              string       `json:"id"`
	TemplateID      string       `json:"template_id"`
	CronExpr        string       `json:"cron_expr"`
	Timezone        string       `json:"timezone"`
	LeadTimeMinutes int          `json:"lead_time_minutes"`
	Title           string       `json:"title"`
	Recipients      string       `json:"recipients"`
	UserID          string       `json:"user_id"`
	Status          ReportStatus `json:"status"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// RecipientList splits the delimited Recipients column into individual
// addresses, trimming whitespace and dropping empty entries.
func (r *ScheduledReport) RecipientList() []string {
	return SplitRecipients(r.Recipients)
}

// ReportTemplate is a dashboard layout definition referenced by reports.
// The DashboardLayout field is opaque to the pipeline; it is handed to the
// rendering engine as-is.
type ReportTemplate struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	Description     string    `json:"description"`
	DashboardLayout string    `json:"dashboard_layout"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ArtifactStatus is the lifecycle status of a generated artifact.
type ArtifactStatus string

const (
	ArtifactStatusActive   ArtifactStatus = "active"
	ArtifactStatusInactive ArtifactStatus = "inactive"
)

// Artifact is a generated report document stored in object storage. At most
// one artifact per report is active at a time; newer generations supersede
// older ones by marking them inactive, never deleting them.
type Artifact struct {
	UID        string         `json:"uid"`
	ReportID   string         `json:"report_id"`
	StorageKey string         `json:"storage_key"`
	Status     ArtifactStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// DeliveryStatus is the status of one delivery occurrence in report_history.
type DeliveryStatus string

const (
	DeliveryStatusSuccess  DeliveryStatus = "success"
	DeliveryStatusRetrying DeliveryStatus = "retrying"
	DeliveryStatusFailed   DeliveryStatus = "failed"
)

// Terminal reports whether the status ends an occurrence's retry sequence.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryStatusSuccess || s == DeliveryStatusFailed
}

// DeliveryHistory is the durable record of one delivery occurrence. It is
// created on attempt 1 and mutated in place on attempts 2..N of the same
// occurrence; once the status is terminal it is never written again.
type DeliveryHistory struct {
	UID          string         `json:"uid"`
	ReportID     string         `json:"report_id"`
	UserID       string         `json:"user_id"`
	Recipients   string         `json:"recipients"`
	ArtifactUID  string         `json:"artifact_uid,omitempty"`
	Status       DeliveryStatus `json:"status"`
	Attempt      int            `json:"attempt"`
	ErrorMessage string         `json:"error_message,omitempty"`
	SentAt       *time.Time     `json:"sent_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// HistoryFilter holds the optional filters for querying delivery history.
// Zero values mean "no filter" for that field. Recipients and ErrorMessage
// are substring matches; the rest are exact.
type HistoryFilter struct {
	UID          string
	ReportID     string
	UserID       string
	Recipients   string
	ArtifactUID  string
	Status       string
	Attempt      int
	ErrorMessage string
}

// Pagination describes a page of results for list endpoints.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// QueueCounts reports the pending and in-flight job counts for one queue.
type QueueCounts struct {
	Waiting int64 `json:"waiting"`
	Active  int64 `json:"active"`
}

// emailPattern is deliberately loose: one non-space local part, an @, and a
// dotted domain. Strict RFC 5322 parsing rejects addresses real providers
// accept.
var emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)

// SplitRecipients splits a comma-delimited recipient string into trimmed,
// non-empty addresses, preserving order.
func SplitRecipients(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// JoinRecipients renders an address list into the delimited storage form.
func JoinRecipients(addrs []string) string {
	trimmed := make([]string, 0, len(addrs))
	for _, a := range addrs {
		a = strings.TrimSpace(a)
		if a != "" {
			trimmed = append(trimmed, a)
		}
	}
	return strings.Join(trimmed, ",")
}

// ValidateRecipients checks that the delimited recipient string contains at
// least one address and that every address looks like an email.
func ValidateRecipients(s string) error {
	addrs := SplitRecipients(s)
	if len(addrs) == 0 {
		return NewAppError(ErrCodeValidationInvalidEmail, "at least one recipient is required", nil)
	}
	for _, a := range addrs {
		if !emailPattern.MatchString(a) {
			return NewAppErrorWithDetails(ErrCodeValidationInvalidEmail,
				"invalid email format for one or more recipients", nil,
				map[string]any{"address": a})
		}
	}
	return nil
}

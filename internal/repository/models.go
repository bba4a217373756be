package repository

import (
	"encoding/json"
	"time"

	"github.com/example/idassure/internal/scoring"
)

// ReferenceProfile is an enrolled identity and the handle of its reference image.
type ReferenceProfile struct {
	IdentityKey       string    `gorm:"column:identity_key;primaryKey;size:128"`
	DisplayName       string    `gorm:"column:display_name;size:256"`
	ReferenceImageKey string    `gorm:"column:reference_image_key;size:512;not null"`
	CreatedAt         time.Time `gorm:"column:created_at"`
	UpdatedAt         time.Time `gorm:"column:updated_at"`
}

// TableName overrides the default table name.
func (ReferenceProfile) TableName() string {
	return "reference_profiles"
}

// AttemptStatus is the persisted lifecycle state of an attempt.
type AttemptStatus string

const (
	AttemptStatusPending AttemptStatus = "pending"
	AttemptStatusDecided AttemptStatus = "decided"
)

// VerificationAttempt is one decided verification, kept for audit.
type VerificationAttempt struct {
	ID            uint          `gorm:"primaryKey"`
	AttemptID     string        `gorm:"column:attempt_id;uniqueIndex;size:64"`
	IdentityKey   string        `gorm:"column:identity_key;index;size:128"`
	ProbeImageKey string        `gorm:"column:probe_image_key;size:512"`
	DocumentKeys  string        `gorm:"column:document_keys;type:text"`
	Status        AttemptStatus `gorm:"column:status;size:16"`
	Success       bool          `gorm:"column:success"`
	Score         float64       `gorm:"column:score"`
	Similarity    *float64      `gorm:"column:similarity"`
	DocumentScore *float64      `gorm:"column:document_score"`
	Issues        string        `gorm:"column:issues;type:text"`
	CredentialID  string        `gorm:"column:credential_id;size:64"`
	LatencyMs     int64         `gorm:"column:latency_ms"`
	CreatedAt     time.Time     `gorm:"column:created_at"`
	DecidedAt     time.Time     `gorm:"column:decided_at"`
}

// TableName overrides the default table name.
func (VerificationAttempt) TableName() string {
	return "verification_attempts"
}

// SetIssues stores issues as JSON.
func (a *VerificationAttempt) SetIssues(issues []scoring.Issue) error {
	if issues == nil {
		issues = []scoring.Issue{}
	}
	raw, err := json.Marshal(issues)
	if err != nil {
		return err
	}
	a.Issues = string(raw)
	return nil
}

// DecodeIssues returns the stored issues.
func (a *VerificationAttempt) DecodeIssues() ([]scoring.Issue, error) {
	issues := []scoring.Issue{}
	if a.Issues == "" {
		return issues, nil
	}
	if err := json.Unmarshal([]byte(a.Issues), &issues); err != nil {
		return nil, err
	}
	return issues, nil
}

// SetDocumentKeys stores the document image keys as JSON.
func (a *VerificationAttempt) SetDocumentKeys(keys []string) error {
	if len(keys) == 0 {
		a.DocumentKeys = ""
		return nil
	}
	raw, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	a.DocumentKeys = string(raw)
	return nil
}

// MetricsAggregation holds aggregate statistics over the attempt log.
type MetricsAggregation struct {
	TotalCount                 int64   `gorm:"column:total_count"`
	SuccessCount               int64   `gorm:"column:success_count"`
	AverageScore               float64 `gorm:"column:average_score"`
	AverageProcessingLatencyMs float64 `gorm:"column:average_processing_latency_ms"`
}

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PolicyDecisionAudit is the immutable record of one policy decision. Rows are
// append-only: there is no update or delete path, corrections are new rows.
type PolicyDecisionAudit struct {
	ID            string      `gorm:"primaryKey;type:uuid" json:"id"`
	UserID        string      `gorm:"type:uuid;index" json:"user_id"`
	CompanyID     string      `gorm:"type:uuid" json:"company_id"`
	CompanyType   CompanyType `json:"company_type"`
	Endpoint      string      `gorm:"index" json:"endpoint"`
	HTTPMethod    string      `json:"http_method"`
	Operation     Operation   `json:"operation"`
	Scope         Scope       `json:"scope"`
	Decision      string      `gorm:"not null" json:"decision"`
	Reason        string      `gorm:"not null" json:"reason"`
	PolicyVersion string      `json:"policy_version"`
	RequestIP     string      `json:"request_ip"`
	RequestID     string      `json:"request_id"`
	CorrelationID string      `json:"correlation_id"`
	LatencyMs     int64       `json:"latency_ms"`
	CreatedAt     time.Time   `gorm:"index" json:"created_at"`
}

func (a *PolicyDecisionAudit) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

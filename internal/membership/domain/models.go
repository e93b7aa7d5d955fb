// Package domain contains the customer membership state machine models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// AssignmentType distinguishes resolver-driven memberships from operator
// overrides.
type AssignmentType string

const (
	AssignmentAutomatic AssignmentType = "AUTOMATIC"
	AssignmentManual    AssignmentType = "MANUAL"
)

// CustomerMembership is one tier assignment. At most one row per customer is
// active; transitions deactivate the old row and insert a new one rather
// than mutating in place.
type CustomerMembership struct {
	ID             snowflake.ID   `gorm:"primaryKey" json:"id"`
	MerchantID     snowflake.ID   `gorm:"not null;index" json:"merchant_id"`
	CustomerID     snowflake.ID   `gorm:"not null;index" json:"customer_id"`
	TierID         snowflake.ID   `gorm:"not null;index" json:"tier_id"`
	IsActive       bool           `gorm:"not null;default:true;index" json:"is_active"`
	AssignedAt     time.Time      `gorm:"not null" json:"assigned_at"`
	EndDate        *time.Time     `gorm:"index" json:"end_date,omitempty"`
	AssignmentType AssignmentType `gorm:"type:text;not null" json:"assignment_type"`
	AssignedBy     *string        `gorm:"type:text" json:"assigned_by,omitempty"`
	Reason         *string        `gorm:"type:text" json:"reason,omitempty"`
	PreviousTierID *snowflake.ID  `gorm:"" json:"previous_tier_id,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (CustomerMembership) TableName() string { return "customer_memberships" }

// ChangeType classifies a tier transition in the change log.
type ChangeType string

const (
	ChangeInitialAssignment  ChangeType = "INITIAL_ASSIGNMENT"
	ChangeAutomaticUpgrade   ChangeType = "AUTOMATIC_UPGRADE"
	ChangeAutomaticDowngrade ChangeType = "AUTOMATIC_DOWNGRADE"
	ChangeManualOverride     ChangeType = "MANUAL_OVERRIDE"
	ChangeExpirationRevert   ChangeType = "EXPIRATION_REVERT"
)

// TierChangeLog is the append-only transition history. Snapshot freezes the
// spend aggregates and tier names at decision time.
type TierChangeLog struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	MerchantID  snowflake.ID      `gorm:"not null;index" json:"merchant_id"`
	CustomerID  snowflake.ID      `gorm:"not null;index" json:"customer_id"`
	FromTierID  *snowflake.ID     `gorm:"" json:"from_tier_id,omitempty"`
	ToTierID    snowflake.ID      `gorm:"not null" json:"to_tier_id"`
	ChangeType  ChangeType        `gorm:"type:text;not null;index" json:"change_type"`
	Reason      string            `gorm:"type:text;not null" json:"reason"`
	TriggeredBy string            `gorm:"type:text;not null" json:"triggered_by"`
	Snapshot    datatypes.JSONMap `gorm:"type:jsonb" json:"snapshot,omitempty"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

// TableName sets the database table name.
func (TierChangeLog) TableName() string { return "tier_change_logs" }

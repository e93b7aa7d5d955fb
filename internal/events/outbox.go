package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// LoyaltyEvent is the outbox row. A relay process marks rows published after
// delivering them; this module only writes.
type LoyaltyEvent struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	MerchantID snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_loyalty_events_dedupe,priority:1" json:"merchant_id"`
	EventType  string            `gorm:"type:text;not null" json:"event_type"`
	Payload    datatypes.JSONMap `gorm:"type:jsonb" json:"payload"`
	DedupeKey  *string           `gorm:"type:text;uniqueIndex:ux_loyalty_events_dedupe,priority:2" json:"dedupe_key,omitempty"`
	Published  bool              `gorm:"not null;default:false;index" json:"published"`
	CreatedAt  time.Time         `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (LoyaltyEvent) TableName() string { return "loyalty_events" }

// Event describes a loyalty event to store in the outbox.
type Event struct {
	MerchantID snowflake.ID
	Type       string
	Payload    map[string]any
	DedupeKey  string
}

// Outbox inserts loyalty events into the loyalty_events table.
type Outbox struct {
	db    *gorm.DB
	genID *snowflake.Node
}

func NewOutbox(db *gorm.DB, genID *snowflake.Node) *Outbox {
	return &Outbox{db: db, genID: genID}
}

// Publish stores an event using the default database connection.
func (o *Outbox) Publish(ctx context.Context, event Event) error {
	return o.publish(ctx, o.db, event)
}

// PublishTx stores an event using an existing transaction.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, event Event) error {
	if tx == nil {
		return errors.New("missing_transaction")
	}
	return o.publish(ctx, tx, event)
}

func (o *Outbox) publish(ctx context.Context, db *gorm.DB, event Event) error {
	if o == nil || db == nil || o.genID == nil {
		return errors.New("outbox_unavailable")
	}
	if event.MerchantID == 0 {
		return errors.New("invalid_merchant_id")
	}
	name := strings.TrimSpace(event.Type)
	if name == "" {
		return errors.New("missing_event_type")
	}

	payload := datatypes.JSONMap{}
	for key, value := range event.Payload {
		if strings.TrimSpace(key) == "" {
			continue
		}
		payload[key] = value
	}

	var dedupe *string
	if key := strings.TrimSpace(event.DedupeKey); key != "" {
		dedupe = &key
	}

	row := LoyaltyEvent{
		ID:         o.genID.Generate(),
		MerchantID: event.MerchantID,
		EventType:  name,
		Payload:    payload,
		DedupeKey:  dedupe,
		CreatedAt:  time.Now().UTC(),
	}
	err := db.WithContext(ctx).Create(&row).Error
	if err != nil && dedupe != nil && isUniqueViolation(err) {
		// A replay already wrote this event.
		return nil
	}
	return err
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

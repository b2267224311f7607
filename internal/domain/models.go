package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ==================== ENUMS ====================

type TaskStatus string

const (
	TaskStatusSubmitted TaskStatus = "submitted"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusUnknown   TaskStatus = "unknown"
)

type LaunchMode string

const (
	LaunchModeEntryPoint LaunchMode = "entry_point"
	LaunchModeCommand    LaunchMode = "command"
)

type LocalRunStatus string

const (
	LocalRunStatusInstalling LocalRunStatus = "installing"
	LocalRunStatusRunning    LocalRunStatus = "running"
	LocalRunStatusCompleted  LocalRunStatus = "completed"
	LocalRunStatusFailed     LocalRunStatus = "failed"
)

type EventStatus string

const (
	EventStatusPending EventStatus = "pending"
	EventStatusSuccess EventStatus = "success"
	EventStatusFailed  EventStatus = "failed"
)

// ==================== JSONB TYPES ====================

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to scan JSONB: invalid type")
	}
	return json.Unmarshal(bytes, j)
}

// ==================== INVENTORY ====================

// NetworkAddress is one address reported by the cloud controller, in the
// order the controller listed it.
type NetworkAddress struct {
	Network string `json:"network,omitempty"`
	Address string `json:"address"`
}

// VMRecord is a deployable target. An empty FloatingIP means the VM has no
// externally reachable address and cannot be deployed to.
type VMRecord struct {
	ID         string           `json:"id"`
	FloatingIP string           `json:"floating_ip"`
	Addresses  []NetworkAddress `json:"addresses,omitempty"`
}

func (v VMRecord) HasAddress() bool {
	return v.FloatingIP != ""
}

// MarshalJSON reports a missing floating IP as null.
func (v VMRecord) MarshalJSON() ([]byte, error) {
	type vmRecord VMRecord
	out := struct {
		vmRecord
		FloatingIP *string `json:"floating_ip"`
	}{vmRecord: vmRecord(v)}
	if v.HasAddress() {
		out.FloatingIP = &v.FloatingIP
	}
	return json.Marshal(out)
}

// ==================== ENTITIES ====================

type TimelineEvent struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Type         string      `gorm:"size:100;not null;index" json:"type"`
	Status       EventStatus `gorm:"size:20;not null;default:'pending';index" json:"status"`
	Message      string      `gorm:"type:text" json:"message"`
	Meta         JSONB       `gorm:"type:jsonb" json:"meta"`
	ResourceID   string      `gorm:"size:255;index" json:"resource_id,omitempty"`
	ResourceType string      `gorm:"size:100;index" json:"resource_type"`
}

package model

import (
	"time"

	"gorm.io/datatypes"
)

const (
	OwnerTypeWorkspace = "workspace"
	OwnerTypePartner   = "partner"
)

type WebhookEndpoint struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	OwnerType string    `gorm:"column:owner_type;size:16;not null;index:idx_webhook_owner,priority:1"`
	OwnerID   string    `gorm:"column:owner_id;size:128;not null;index:idx_webhook_owner,priority:2"`
	URL       string    `gorm:"column:url;size:512;not null"`
	Secret    string    `gorm:"column:secret;size:255;not null" json:"-"`
	Active    bool      `gorm:"column:active;not null;default:true"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (WebhookEndpoint) TableName() string {
	return "webhook_endpoints"
}

type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusRetrying  DeliveryStatus = "retrying"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusDead      DeliveryStatus = "dead"
)

type DeliveryChannel string

const (
	DeliveryChannelWebhook DeliveryChannel = "webhook"
	DeliveryChannelKafka   DeliveryChannel = "kafka"
)

// NotificationDelivery is one outbound event bound for one destination.
type NotificationDelivery struct {
	ID             uint64          `gorm:"primaryKey;autoIncrement"`
	EventID        string          `gorm:"column:event_id;size:64;not null;uniqueIndex:idx_delivery_event_target,priority:1"`
	EventType      string          `gorm:"column:event_type;size:64;not null"`
	Channel        DeliveryChannel `gorm:"column:channel;size:16;not null"`
	Target         string          `gorm:"column:target;size:512;not null;uniqueIndex:idx_delivery_event_target,priority:2"`
	EndpointID     *uint64         `gorm:"column:endpoint_id"`
	PartitionKey   string          `gorm:"column:partition_key;size:128"`
	Payload        datatypes.JSON  `gorm:"column:payload;type:json;not null"`
	Status         DeliveryStatus  `gorm:"column:status;size:16;index;not null"`
	Attempts       int             `gorm:"column:attempts;not null;default:0"`
	LastError      string          `gorm:"column:last_error;size:512"`
	LastStatusCode int             `gorm:"column:last_status_code"`
	NextAttemptAt  *time.Time      `gorm:"column:next_attempt_at;index"`
	DeliveredAt    *time.Time      `gorm:"column:delivered_at"`
	DeadAt         *time.Time      `gorm:"column:dead_at"`
	CreatedAt      time.Time       `gorm:"autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime"`
}

func (NotificationDelivery) TableName() string {
	return "notification_deliveries"
}

// All returns every model the service migrates.
func All() []interface{} {
	return []interface{}{
		&Lead{},
		&Partner{},
		&PartnerEarning{},
		&Purchase{},
		&PurchaseLineItem{},
		&CreditBalance{},
		&CreditLedgerEntry{},
		&Notification{},
		&WebhookEndpoint{},
		&NotificationDelivery{},
	}
}

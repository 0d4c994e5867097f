package store

import (
	"time"

	"github.com/mailhook/mailhook/internal/hook"
)

type hookModel struct {
	ID            string `gorm:"primaryKey"`
	Email         string `gorm:"uniqueIndex;not null"`
	WebhookURL    string `gorm:"not null"`
	WebhookSecret string
	IsEnabled     bool `gorm:"not null;default:true"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (hookModel) TableName() string { return "hooks" }

func (m hookModel) toEntity() hook.Hook {
	return hook.Hook{
		ID:            m.ID,
		Email:         m.Email,
		WebhookURL:    m.WebhookURL,
		WebhookSecret: m.WebhookSecret,
		IsEnabled:     m.IsEnabled,
	}
}

type domainModel struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;not null"`
	Verified  bool   `gorm:"not null;default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (domainModel) TableName() string { return "domains" }

func (m domainModel) toEntity() hook.Domain {
	return hook.Domain{
		ID:       m.ID,
		Name:     m.Name,
		Verified: m.Verified,
	}
}

type deliveryModel struct {
	ID             string `gorm:"primaryKey"`
	HookID         string `gorm:"index;not null"`
	FromAddress    string
	Subject        string
	Status         string `gorm:"index;not null"`
	HTTPStatusCode *int
	ErrorMessage   string
	CreatedAt      time.Time `gorm:"index"`
}

func (deliveryModel) TableName() string { return "delivery_logs" }

func (m deliveryModel) toEntity() hook.LoggedAttempt {
	return hook.LoggedAttempt{
		DeliveryAttempt: hook.DeliveryAttempt{
			HookID:         m.HookID,
			FromAddress:    m.FromAddress,
			Subject:        m.Subject,
			Status:         m.Status,
			HTTPStatusCode: m.HTTPStatusCode,
			ErrorMessage:   m.ErrorMessage,
		},
		ID:        m.ID,
		CreatedAt: m.CreatedAt,
	}
}

package models

import (
	"strings"
	"time"
)

// Tenant is an onboarded restaurant. Provider credentials are never serialised.
type Tenant struct {
	ID                  string    `gorm:"primary_key;size:64" json:"id"`
	Name                string    `gorm:"index;size:100;not null" json:"name"`
	ProviderAccessToken string    `gorm:"type:text" json:"-"`
	WebhookSecret       string    `gorm:"type:text" json:"-"`
	IsActive            *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ProviderCredential is the bundle used to authenticate against the payment provider.
type ProviderCredential struct {
	AccessToken   string
	WebhookSecret string
}

func (c ProviderCredential) IsZero() bool {
	return strings.TrimSpace(c.AccessToken) == ""
}

func (t *Tenant) Credential() ProviderCredential {
	return ProviderCredential{
		AccessToken:   strings.TrimSpace(t.ProviderAccessToken),
		WebhookSecret: strings.TrimSpace(t.WebhookSecret),
	}
}

func (t *Tenant) HasProviderCredential() bool {
	return !t.Credential().IsZero()
}

package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Exchange environment constants. The demo environment points at the
// exchange's sandbox, production at the live platform.
const (
	ExchangeEnvDemo       = "demo"
	ExchangeEnvProduction = "production"
)

// Company owns the exchange credentials used for outbound submissions and
// authenticates inbound API calls with a hashed access token.
type Company struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Name            string     `gorm:"type:varchar(191);not null" json:"name"`
	PIB             string     `gorm:"type:varchar(20);not null;uniqueIndex" json:"pib"`
	SEFApiKey       string     `gorm:"type:varchar(191);not null" json:"-"`
	SEFEnvironment  string     `gorm:"type:varchar(20);not null;default:'demo'" json:"sef_environment"`
	APITokenHash    string     `gorm:"type:varchar(64);index" json:"-"`
	TokenLastUsedAt *time.Time `gorm:"type:timestamp;default:null" json:"token_last_used_at,omitempty"`
	IsActive        bool       `gorm:"default:true;index" json:"is_active"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// HashAPIToken returns the SHA-256 hash for the provided API token.
func HashAPIToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// GenerateAPIToken creates a new random API token and returns the raw token
// together with its hash. Only the hash is persisted.
func GenerateAPIToken() (string, string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	raw := hex.EncodeToString(buf)
	return raw, HashAPIToken(raw), nil
}

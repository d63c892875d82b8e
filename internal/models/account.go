package models

import "time"

// Security modes for the IMAP connection.
const (
	SecuritySSL      = "ssl"
	SecuritySTARTTLS = "starttls"
	SecurityNone     = "none"
)

const ProviderIMAP = "imap"

// EmailAccount is a mailbox the user has connected to the CRM.
type EmailAccount struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	OrganizationID     *string    `json:"organization_id,omitempty"`
	ProviderType       string     `json:"provider_type"`
	Email              string     `json:"email"`
	IMAPHost           string     `json:"imap_host"`
	IMAPPort           int        `json:"imap_port"`
	IMAPSecurity       string     `json:"imap_security"`
	IMAPUsername       string     `json:"imap_username"`
	EncryptedPassword  string     `json:"-"`
	RejectUnauthorized bool       `json:"reject_unauthorized"`
	IsActive           bool       `json:"is_active"`
	LastSyncAt         *time.Time `json:"last_sync_at,omitempty"`
	SyncError          *string    `json:"sync_error,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

package storage

import (
	"time"
)

const (
	ActionRegistered        = "customer.registered"
	ActionFaceCaptured      = "face.captured"
	ActionDocumentsUploaded = "documents.uploaded"
	ActionVerificationSent  = "verification.sent"
	ActionAccountLinked     = "account.linked"
)

const AccountStatusActive = "active"

type AuditLog struct {
	Action    string
	EntityID  string
	RequestID string
	IP        string
	UserAgent string
	Metadata  map[string]string
}

type LinkedAccount struct {
	AccountID           string
	AccountNumber       string
	LinkedAccountNumber string
	BankName            string
	AccountType         string
	Status              string
	CreatedAt           time.Time
}

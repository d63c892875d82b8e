package models

import "time"

type Folder struct {
	Name       string   `json:"name"`
	Attributes []string `json:"attributes,omitempty"`
}

const (
	EmailTypeReceived = "received"
	EmailTypeSent     = "sent"
)

// Processing status values for EmailIndexRecord.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// RawMessage is a message exactly as the server returned it.
type RawMessage struct {
	SeqNum uint32
	UID    uint32
	Body   []byte
	Flags  []string
}

// ParsedMessage is a RawMessage decoded into the fields the CRM stores.
// MessageID is the header value as found and may be empty or malformed.
type ParsedMessage struct {
	MessageID       string
	Subject         string
	FromAddress     string
	FromName        string
	ToAddress       string
	Date            time.Time
	DateFromHeader  bool
	BodyText        string
	BodyHTML        string
	AttachmentCount int
	IsRead          bool
	InReplyTo       string
	References      []string
	UID             uint32
}

// EmailIndexRecord is the queryable metadata row for one ingested message.
type EmailIndexRecord struct {
	ID              string
	MessageID       string
	SourceKey       string
	AccountID       string
	UserID          string
	OrganizationID  *string
	ThreadID        string
	EmailType       string
	FolderName      string
	Subject         string
	PreviewText     string
	FromAddress     string
	FromName        string
	ToAddress       string
	ReceivedAt      *time.Time
	SentAt          *time.Time
	IsRead          bool
	HasAttachments  bool
	AttachmentCount int
	Status          string
	AIAnalysis      []byte
	AnalyzedAt      *time.Time
}

// EmailContentRecord holds the bodies for one EmailIndexRecord.
type EmailContentRecord struct {
	EmailID   string
	MessageID string
	BodyText  string
	BodyHTML  string
}

// ThreadPlaceholder is inserted if absent before the emails that reference it.
type ThreadPlaceholder struct {
	AccountID string
	ThreadID  string
	UserID    string
	Subject   string
}

// AdmittedEmail pairs an index record with its content before insertion.
type AdmittedEmail struct {
	Index   EmailIndexRecord
	Content EmailContentRecord
}

// AnalysisTask asks the analysis worker to process one stored email.
type AnalysisTask struct {
	EmailID        string  `json:"emailId"`
	UserID         string  `json:"userId"`
	OrganizationID *string `json:"organizationId,omitempty"`
	Priority       int     `json:"priority"`
	SkipDraft      bool    `json:"skipDraft"`
	ForceReprocess bool    `json:"forceReprocess"`
}

// AnalysisBatch is the message body published to the analysis queue.
type AnalysisBatch struct {
	BatchID string         `json:"batchId"`
	Tasks   []AnalysisTask `json:"tasks"`
	Attempt int            `json:"attempt"`
}

// AnalysisEmail is what the analysis worker sends to the analyzer.
type AnalysisEmail struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Subject     string     `json:"subject"`
	FromAddress string     `json:"fromAddress"`
	FromName    string     `json:"fromName"`
	ToAddress   string     `json:"toAddress"`
	EmailType   string     `json:"emailType"`
	ReceivedAt  *time.Time `json:"receivedAt,omitempty"`
	BodyText    string     `json:"bodyText"`
	Status      string     `json:"-"`
}

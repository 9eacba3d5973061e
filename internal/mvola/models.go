package mvola

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a merchant payment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRejected  Status = "rejected"
	StatusUnknown   Status = "unknown"
)

// ParseStatus maps a remote status value onto Status. Unrecognized values
// become StatusUnknown.
func ParseStatus(s string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusPending:
		return StatusPending
	case StatusCompleted:
		return StatusCompleted
	case StatusFailed:
		return StatusFailed
	case StatusRejected:
		return StatusRejected
	default:
		return StatusUnknown
	}
}

// Terminal reports whether no further state change is expected.
// StatusUnknown is treated as terminal: polling cannot make progress on it.
func (s Status) Terminal() bool {
	return s != StatusPending && s != ""
}

// Location carries the optional cell and geolocation hints for both parties.
type Location struct {
	CellIDA      string `json:"cellIdA,omitempty"`
	GeoLocationA string `json:"geoLocationA,omitempty"`
	CellIDB      string `json:"cellIdB,omitempty"`
	GeoLocationB string `json:"geoLocationB,omitempty"`
}

// PaymentRequest describes a merchant payment from DebitMSISDN to CreditMSISDN.
type PaymentRequest struct {
	Amount       int64
	Currency     string
	Description  string
	DebitMSISDN  string
	CreditMSISDN string

	// ForeignCurrency and ForeignAmount are set together or not at all.
	ForeignCurrency string
	ForeignAmount   *decimal.Decimal

	CallbackURL           string
	OrganisationReference string
	OriginalReference     string

	// CorrelationID is generated when empty.
	CorrelationID string
	Location      *Location
}

// CorrelationHandle tracks one accepted payment through its lifecycle.
type CorrelationHandle struct {
	CorrelationID       string
	ServerCorrelationID string
	Status              Status
	NotificationMethod  string
	// ObjectReference is the transaction identifier, populated once completed.
	ObjectReference string
	UpdatedAt       time.Time
}

// Fee is a charge applied by the remote service to a transaction.
type Fee struct {
	FeeAmount decimal.Decimal `json:"feeAmount"`
}

// TransactionDetails is a read-only snapshot of a terminal transaction.
type TransactionDetails struct {
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	TransactionReference string          `json:"transactionReference"`
	Status               Status          `json:"transactionStatus"`
	CreateDate           string          `json:"createDate,omitempty"`
	RequestDate          string          `json:"requestDate,omitempty"`
	DebitParty           []KeyValue      `json:"debitParty,omitempty"`
	CreditParty          []KeyValue      `json:"creditParty,omitempty"`
	Fees                 []Fee           `json:"fees,omitempty"`
	Metadata             []KeyValue      `json:"metadata,omitempty"`
}

// DebitMSISDN returns the msisdn entry of the debit party.
func (d TransactionDetails) DebitMSISDN() string { return lookup(d.DebitParty, "msisdn") }

// CreditMSISDN returns the msisdn entry of the credit party.
func (d TransactionDetails) CreditMSISDN() string { return lookup(d.CreditParty, "msisdn") }

// MetadataValue returns the metadata value stored under key.
func (d TransactionDetails) MetadataValue(key string) string { return lookup(d.Metadata, key) }

// Notification is the payload the remote service sends to the callback URL.
type Notification struct {
	TransactionStatus    string     `json:"transactionStatus"`
	ServerCorrelationID  string     `json:"serverCorrelationId"`
	TransactionReference string     `json:"transactionReference"`
	RequestDate          string     `json:"requestDate"`
	DebitParty           []KeyValue `json:"debitParty"`
	CreditParty          []KeyValue `json:"creditParty"`
	Fees                 []Fee      `json:"fees"`
	Metadata             []KeyValue `json:"metadata"`
}

// Status returns the notified status.
func (n Notification) Status() Status { return ParseStatus(n.TransactionStatus) }

func lookup(pairs []KeyValue, key string) string {
	for _, p := range pairs {
		if p.Key == key {
			return p.Value
		}
	}
	return ""
}

// tokenResponse captures the payload returned by the token endpoint.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
	ExpiresIn   int64  `json:"expires_in"`
}

type paymentBody struct {
	Amount                       string     `json:"amount"`
	Currency                     string     `json:"currency"`
	DescriptionText              string     `json:"descriptionText"`
	OrganisationReference        string     `json:"requestingOrganisationTransactionReference"`
	RequestDate                  string     `json:"requestDate"`
	OriginalTransactionReference string     `json:"originalTransactionReference"`
	DebitParty                   []KeyValue `json:"debitParty"`
	CreditParty                  []KeyValue `json:"creditParty"`
	Metadata                     []KeyValue `json:"metadata"`
}

type initiateResponse struct {
	ServerCorrelationID string `json:"serverCorrelationId"`
	Status              string `json:"status"`
	NotificationMethod  string `json:"notificationMethod"`
}

type statusResponse struct {
	Status              string `json:"status"`
	ServerCorrelationID string `json:"serverCorrelationId"`
	NotificationMethod  string `json:"notificationMethod"`
	ObjectReference     string `json:"objectReference"`
}

type detailsResponse struct {
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	TransactionReference string          `json:"transactionReference"`
	TransactionStatus    string          `json:"transactionStatus"`
	CreateDate           string          `json:"createDate"`
	RequestDate          string          `json:"requestDate"`
	DebitParty           []KeyValue      `json:"debitParty"`
	CreditParty          []KeyValue      `json:"creditParty"`
	Fee                  []Fee           `json:"fee"`
	Metadata             []KeyValue      `json:"metadata"`
}

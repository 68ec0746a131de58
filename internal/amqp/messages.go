package amqp

import (
	"encoding/json"
	"time"

	"invoicer/internal/core"
)

// EventInvoiceGenerated is the Publishing.Type of issued invoice messages.
const EventInvoiceGenerated = "invoice.generated"

// InvoiceGeneratedMessage announces a persisted payment. It carries enough
// for a ledger row; consumers needing more fetch the payment by ID.
type InvoiceGeneratedMessage struct {
	PaymentID     string    `json:"payment_id"`
	UserID        string    `json:"user_id"`
	InvoiceNumber string    `json:"invoice_number"`
	Month         string    `json:"month"`
	Total         int64     `json:"total"`
	Lines         int       `json:"lines"`
	IssuedAt      time.Time `json:"issued_at"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewInvoiceGeneratedMessage(p core.Payment) *InvoiceGeneratedMessage {
	return &InvoiceGeneratedMessage{
		PaymentID:     p.ID,
		UserID:        p.UserID,
		InvoiceNumber: p.InvoiceNumber,
		Month:         p.Month.String(),
		Total:         int64(p.Total),
		Lines:         len(p.MatchingIDs),
		IssuedAt:      p.IssuedAt,
		Timestamp:     time.Now(),
	}
}

func (m *InvoiceGeneratedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func InvoiceGeneratedMessageFromJSON(data []byte) (*InvoiceGeneratedMessage, error) {
	var msg InvoiceGeneratedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.PaymentID == "" {
		return nil, errEmptyPaymentID
	}
	return &msg, nil
}

package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransferEvent announces a transfer to asynchronous consumers. It is a
// notification, not an instruction: consumers must never apply it to balances.
type TransferEvent struct {
	SenderID   string
	ReceiverID string
	Amount     decimal.Decimal
	Timestamp  time.Time
}

type transferWire struct {
	SenderID   string      `json:"senderId"`
	ReceiverID string      `json:"receiverId"`
	Amount     json.Number `json:"amount"`
	Timestamp  string      `json:"timestamp"`
}

// NewTransferEvent stamps an event with the current time.
func NewTransferEvent(senderID, receiverID string, amount decimal.Decimal) TransferEvent {
	return TransferEvent{SenderID: senderID, ReceiverID: receiverID, Amount: amount, Timestamp: time.Now().UTC()}
}

// MarshalJSON encodes the amount as a JSON number and the timestamp as
// ISO-8601 with millisecond precision.
func (e TransferEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(transferWire{
		SenderID:   e.SenderID,
		ReceiverID: e.ReceiverID,
		Amount:     json.Number(e.Amount.StringFixed(2)),
		Timestamp:  e.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

// UnmarshalJSON decodes and validates the wire shape.
func (e *TransferEvent) UnmarshalJSON(data []byte) error {
	var w transferWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.SenderID == "" || w.ReceiverID == "" {
		return errors.New("transfer event: missing party")
	}
	amount, err := decimal.NewFromString(w.Amount.String())
	if err != nil {
		return fmt.Errorf("transfer event: amount: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		return fmt.Errorf("transfer event: timestamp: %w", err)
	}
	*e = TransferEvent{SenderID: w.SenderID, ReceiverID: w.ReceiverID, Amount: amount, Timestamp: ts.UTC()}
	return nil
}

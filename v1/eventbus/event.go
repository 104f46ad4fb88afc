package eventbus

import "time"

// Type identifies the kind of stock movement an Event describes. The value
// doubles as the transport topic (Kafka topic, NATS subject, Redis channel).
type Type string

const (
	TypeReceived    Type = "stock.received"
	TypeReserved    Type = "stock.reserved"
	TypeCommitted   Type = "stock.committed"
	TypeReleased    Type = "stock.released"
	TypeExpired     Type = "stock.expired"
	TypeAdjusted    Type = "stock.adjusted"
	TypeTransferred Type = "stock.transferred"

	// TopicAll receives a copy of every published event.
	TopicAll Type = "stock.all"
)

// Event describes one stock movement.
type Event struct {
	Type          Type      `json:"type"`
	Sku           string    `json:"sku"`
	Location      string    `json:"location"`
	Quantity      int64     `json:"quantity,omitempty"`
	Delta         int64     `json:"delta,omitempty"`
	Dest          string    `json:"dest,omitempty"`
	ReservationID string    `json:"reservation_id,omitempty"`
	TransferID    string    `json:"transfer_id,omitempty"`
	OrderRef      string    `json:"order_ref,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	At            time.Time `json:"at"`
}

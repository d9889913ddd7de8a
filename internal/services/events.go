package services

import (
	"github.com/google/uuid"
)

// Event is emitted by state-machine operations instead of hiding side effects
// in persistence hooks. The dispatcher consumes events synchronously after
// the local transaction has committed.
type Event struct {
	Kind        string
	UserID      uuid.UUID
	OrderID     *uuid.UUID
	OrderItemID *uuid.UUID
	Message     string
}

func orderEvent(kind string, userID, orderID uuid.UUID, message string) Event {
	return Event{
		Kind:    kind,
		UserID:  userID,
		OrderID: &orderID,
		Message: message,
	}
}

func itemEvent(kind string, userID, orderID, itemID uuid.UUID, message string) Event {
	return Event{
		Kind:        kind,
		UserID:      userID,
		OrderID:     &orderID,
		OrderItemID: &itemID,
		Message:     message,
	}
}

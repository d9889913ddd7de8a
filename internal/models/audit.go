package models

import (
	"github.com/google/uuid"
)

// WarehouseLog is an append-only audit entry recorded on every fulfillment
// transition and post-sale stage. Terminal entities are never mutated further
// except by appending here.
type WarehouseLog struct {
	BaseModel
	OrderID     uuid.UUID  `gorm:"type:uuid;index" json:"order_id"`
	OrderItemID *uuid.UUID `gorm:"type:uuid;index" json:"order_item_id"`
	ActorID     *uuid.UUID `gorm:"type:uuid" json:"actor_id"`
	ActorRole   string     `json:"actor_role"`
	Action      string     `json:"action"`
	FromStatus  string     `json:"from_status"`
	ToStatus    string     `json:"to_status"`
	Comment     string     `json:"comment"`
}

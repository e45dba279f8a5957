package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/amohamed/cashier-backend/pkg/enums"
)

// User is the owning entity for subscriptions. The billing core only needs a
// stable identity; profile data lives with the host application.
type User struct {
	ID        uuid.UUID        `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email     string           `gorm:"column:email;not null;uniqueIndex"`
	Name      string           `gorm:"column:name;not null"`
	Role      enums.MemberRole `gorm:"column:role;type:member_role_enum;not null;default:user"`
	CreatedAt time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

package notifier

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type notificationModel struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey"`
	UserID      uuid.UUID         `gorm:"type:uuid;not null;index"`
	Kind        string            `gorm:"type:text;not null"`
	Title       string            `gorm:"type:text;not null"`
	Description string            `gorm:"type:text"`
	Meta        datatypes.JSONMap `gorm:"type:jsonb"`
	Read        bool              `gorm:"not null;default:false"`
	CreatedAt   time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (notificationModel) TableName() string { return "notifications" }

type profileModel struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	FullName     string    `gorm:"type:text"`
	BusinessName string    `gorm:"type:text"`
	Role         string    `gorm:"type:text"`
}

func (profileModel) TableName() string { return "profiles" }

type followModel struct {
	ID         int64     `gorm:"type:bigserial;primaryKey"`
	FollowerID uuid.UUID `gorm:"type:uuid"`
	FollowedID uuid.UUID `gorm:"type:uuid"`
}

func (followModel) TableName() string { return "following" }

type productModel struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	SellerID uuid.UUID `gorm:"type:uuid"`
	Name     string    `gorm:"type:text"`
}

func (productModel) TableName() string { return "products" }

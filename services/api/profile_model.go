package api

import (
	"time"

	"github.com/google/uuid"
)

type profileModel struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	FullName     string    `gorm:"type:text;not null"`
	Email        string    `gorm:"type:text;not null"`
	AvatarURL    string    `gorm:"type:text"`
	BusinessName string    `gorm:"type:text"`
	BusinessType string    `gorm:"type:text"`
	PhoneNumber  string    `gorm:"type:text"`
	Address      string    `gorm:"type:text"`
	Website      string    `gorm:"type:text"`
	NIB          string    `gorm:"type:text"`
	Role         string    `gorm:"type:text;not null;default:'user'"`
	CreatedAt    time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (profileModel) TableName() string { return "profiles" }

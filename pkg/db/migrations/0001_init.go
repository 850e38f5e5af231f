package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type Account struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Email        string    `gorm:"type:text;uniqueIndex;not null"`
	PasswordHash string    `gorm:"type:text;not null"`
	CreatedAt    time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

type RefreshSession struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	AccountID uuid.UUID `gorm:"type:uuid;not null;index"`
	Token     string    `gorm:"type:text;uniqueIndex;not null"`
	ExpiresAt time.Time `gorm:"type:timestamptz;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	Account   Account   `gorm:"foreignKey:AccountID;references:ID;constraint:OnDelete:CASCADE"`
}

type Profile struct {
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
	Account      Account   `gorm:"foreignKey:ID;references:ID;constraint:OnDelete:CASCADE"`
}

type WishlistItem struct {
	ID        int64     `gorm:"type:bigserial;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_wishlist_pair"`
	ProductID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_wishlist_pair"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (WishlistItem) TableName() string { return "wishlist" }

type Follow struct {
	ID         int64     `gorm:"type:bigserial;primaryKey"`
	FollowerID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_following_pair"`
	FollowedID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_following_pair"`
	CreatedAt  time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (Follow) TableName() string { return "following" }

type Notification struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey"`
	UserID      uuid.UUID         `gorm:"type:uuid;not null;index"`
	Kind        string            `gorm:"type:text;not null"`
	Title       string            `gorm:"type:text;not null"`
	Description string            `gorm:"type:text"`
	Meta        datatypes.JSONMap `gorm:"type:jsonb"`
	Read        bool              `gorm:"not null;default:false"`
	CreatedAt   time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

type Product struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey"`
	SellerID    uuid.UUID         `gorm:"type:uuid;not null;index"`
	Name        string            `gorm:"type:text;not null"`
	Price       int64             `gorm:"type:bigint;not null"`
	Stock       int               `gorm:"not null;default:0"`
	Category    string            `gorm:"type:text;not null"`
	Description string            `gorm:"type:text"`
	Images      datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt   time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	Seller      Profile           `gorm:"foreignKey:SellerID;references:ID;constraint:OnDelete:CASCADE"`
}

type Comment struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	ThreadID    uuid.UUID `gorm:"type:uuid;not null;index"`
	AuthorID    uuid.UUID `gorm:"type:uuid;not null;index"`
	RecipientID uuid.UUID `gorm:"type:uuid;not null;index"`
	Body        string    `gorm:"type:text;not null"`
	CreatedAt   time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

type Event struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	OrganizerID uuid.UUID `gorm:"type:uuid;not null;index"`
	Title       string    `gorm:"type:text;not null"`
	Description string    `gorm:"type:text"`
	Location    string    `gorm:"type:text"`
	StartsAt    time.Time `gorm:"type:timestamptz;not null"`
	CreatedAt   time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	Organizer   Profile   `gorm:"foreignKey:OrganizerID;references:ID;constraint:OnDelete:CASCADE"`
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).AutoMigrate(
		&Account{},
		&RefreshSession{},
		&Profile{},
		&WishlistItem{},
		&Follow{},
		&Notification{},
		&Product{},
		&Comment{},
		&Event{},
	); err != nil {
		return err
	}

	m := gormDB.WithContext(ctx).Migrator()
	if err := m.CreateConstraint(&RefreshSession{}, "Account"); err != nil {
		return err
	}
	if err := m.CreateConstraint(&Profile{}, "Account"); err != nil {
		return err
	}
	if err := m.CreateConstraint(&Product{}, "Seller"); err != nil {
		return err
	}
	if err := m.CreateConstraint(&Event{}, "Organizer"); err != nil {
		return err
	}

	return nil
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).Migrator().DropTable(
		&Event{},
		&Comment{},
		&Product{},
		&Notification{},
		&Follow{},
		&WishlistItem{},
		&Profile{},
		&RefreshSession{},
		&Account{},
	); err != nil {
		return err
	}

	return nil
}

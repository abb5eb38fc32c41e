// Package users keeps a local copy of the dashboard's users, synced from
// the identity provider.
package users

import (
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// User is one synced account
type User struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	ClerkUserID string    `gorm:"uniqueIndex;not null" json:"clerkUserId"`
	Email       string    `gorm:"uniqueIndex;not null" json:"email"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ErrNotFound is returned when no user matches
var ErrNotFound = errors.New("user not found")

// Repository stores users
type Repository interface {
	Upsert(u *User) (*User, error)
	FindByClerkID(clerkUserID string) (*User, error)
	List() ([]User, error)
}

type gormRepo struct{ db *gorm.DB }

// NewRepository wraps an open database
func NewRepository(db *gorm.DB) Repository { return &gormRepo{db: db} }

// Open opens the SQLite database at path and migrates the users table
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open users db: %w", err)
	}
	if err := db.AutoMigrate(&User{}); err != nil {
		return nil, fmt.Errorf("migrate users: %w", err)
	}
	return db, nil
}

// Upsert inserts u, or updates the profile fields of the user with the same
// ClerkUserID. CreatedAt of an existing user is kept.
func (r *gormRepo) Upsert(u *User) (*User, error) {
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "clerk_user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "first_name", "last_name", "updated_at"}),
	}).Create(u).Error
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return r.FindByClerkID(u.ClerkUserID)
}

func (r *gormRepo) FindByClerkID(clerkUserID string) (*User, error) {
	var u User
	if err := r.db.Where("clerk_user_id = ?", clerkUserID).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *gormRepo) List() ([]User, error) {
	var out []User
	if err := r.db.Order("created_at desc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return out, nil
}

package users

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/afroash/krishii-mitra/internal/fetch"
)

// Directory looks users up in the identity provider
type Directory interface {
	GetUser(ctx context.Context, id string) (*fetch.DirectoryUser, error)
}

// Service syncs users from the directory into the repository
type Service struct {
	dir    Directory
	repo   Repository
	logger zerolog.Logger
}

// NewService creates the sync service
func NewService(dir Directory, repo Repository, logger zerolog.Logger) *Service {
	return &Service{dir: dir, repo: repo, logger: logger.With().Str("component", "users").Logger()}
}

// Sync fetches clerkUserID from the directory and upserts it locally
func (s *Service) Sync(ctx context.Context, clerkUserID string) (*User, error) {
	du, err := s.dir.GetUser(ctx, clerkUserID)
	if err != nil {
		return nil, err
	}

	u, err := s.repo.Upsert(&User{
		ClerkUserID: du.ID,
		Email:       du.Email,
		FirstName:   du.FirstName,
		LastName:    du.LastName,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("clerk_user_id", u.ClerkUserID).Msg("User synced")
	return u, nil
}

// List returns every synced user, newest first
func (s *Service) List() ([]User, error) {
	return s.repo.List()
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"appointment-service/internal/models"
)

// GetBusinessCustomer returns the business_customers row for a profile at a
// business, or nil when the customer has no per-business record.
func (s *Store) GetBusinessCustomer(ctx context.Context, userProfileID, businessID string) (*models.BusinessCustomer, error) {
	var c models.BusinessCustomer
	err := s.db.GetContext(ctx, &c,
		`SELECT id, business_id, user_profile_id, COALESCE(name, '') AS name,
		        COALESCE(phone, '') AS phone, COALESCE(email, '') AS email
		 FROM business_customers
		 WHERE user_profile_id = $1 AND business_id = $2
		 LIMIT 1`, userProfileID, businessID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetAuthUser retrieves the auth-provider record of a user
func (s *Store) GetAuthUser(ctx context.Context, id string) (*models.AuthUser, error) {
	var u models.AuthUser
	err := s.db.GetContext(ctx, &u,
		`SELECT id, COALESCE(email, '') AS email, COALESCE(phone, '') AS phone,
		        COALESCE(raw_user_meta_data, '{}'::jsonb) AS raw_user_meta_data
		 FROM auth_users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("auth user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserProfile retrieves a user profile by ID
func (s *Store) GetUserProfile(ctx context.Context, id string) (*models.UserProfile, error) {
	var p models.UserProfile
	err := s.db.GetContext(ctx, &p,
		`SELECT id, COALESCE(full_name, '') AS full_name, COALESCE(email, '') AS email
		 FROM users_profile WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user profile %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

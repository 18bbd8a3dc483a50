package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"appointment-service/internal/models"
	"appointment-service/internal/store"
	"appointment-service/internal/util"

	"go.uber.org/zap"
)

// ContactResolver finds how to reach an appointment's customer. The
// business_customers record wins; the auth user record is the fallback.
type ContactResolver struct {
	store  ContactStore
	logger *zap.Logger
}

// NewContactResolver creates a new contact resolver
func NewContactResolver(store ContactStore) *ContactResolver {
	return &ContactResolver{
		store:  store,
		logger: util.GetLogger(),
	}
}

// Resolve returns the contact of profileID at businessID. A contact with an
// empty phone is not an error.
func (r *ContactResolver) Resolve(ctx context.Context, profileID, businessID string) (models.CustomerContact, error) {
	ctx, span := util.StartSpan(ctx, "ContactResolver.Resolve")
	defer span.End()

	customer, err := r.store.GetBusinessCustomer(ctx, profileID, businessID)
	if err != nil {
		r.logger.Warn("Business customer lookup failed, falling back to auth user",
			zap.String("user_profile_id", profileID),
			zap.String("business_id", businessID),
			zap.Error(err))
	}
	if customer != nil {
		return models.CustomerContact{
			Name:   customer.Name,
			Phone:  customer.Phone,
			Email:  customer.Email,
			Source: models.ContactSourceBusinessCustomer,
		}, nil
	}

	user, err := r.store.GetAuthUser(ctx, profileID)
	if errors.Is(err, store.ErrNotFound) {
		return models.CustomerContact{Source: models.ContactSourceAuth}, nil
	}
	if err != nil {
		return models.CustomerContact{}, fmt.Errorf("failed to load auth user: %w", err)
	}

	return r.contactFromAuthUser(user), nil
}

type authMetadata struct {
	FullName string `json:"full_name"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
}

// contactFromAuthUser reads the contact from an auth user. Malformed
// metadata is logged and the columns of the auth record are still used.
func (r *ContactResolver) contactFromAuthUser(u *models.AuthUser) models.CustomerContact {
	var meta authMetadata
	if len(u.UserMetadata) > 0 {
		if err := json.Unmarshal(u.UserMetadata, &meta); err != nil {
			meta = authMetadata{}
			r.logger.Warn("Auth user metadata is not valid JSON",
				zap.String("user_id", u.ID),
				zap.Error(err))
		}
	}

	phone := u.Phone
	if phone == "" {
		phone = meta.Phone
	}
	name := meta.FullName
	if name == "" {
		name = meta.Name
	}

	return models.CustomerContact{
		Name:   name,
		Phone:  phone,
		Email:  u.Email,
		Source: models.ContactSourceAuth,
	}
}

package repository

import (
	"context"

	"mfa-gateway/internal/user/domain"
)

// Repository defines persistence for users. Update is the persist(user)
// capability the provider strategies rely on after mutating MFA state.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	Update(ctx context.Context, u *domain.User) error
}

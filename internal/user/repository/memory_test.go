package repository

import (
	"context"
	"testing"

	"mfa-gateway/internal/user/domain"
)

func TestCreateStampsTimestamps(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	u := &domain.User{ID: "u-1", Email: "alice@example.com"}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.CreatedAt.IsZero() || u.UpdatedAt.IsZero() {
		t.Fatalf("timestamps not stamped: created=%v updated=%v", u.CreatedAt, u.UpdatedAt)
	}

	got, err := repo.GetByID(ctx, "u-1")
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatalf("stored timestamps zero: %+v", got)
	}
}

func TestUpdateKeepsCreatedAt(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	u := &domain.User{ID: "u-1", Email: "alice@example.com"}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}
	created := u.CreatedAt

	u.Name = "Alice"
	if err := repo.Update(ctx, u); err != nil {
		t.Fatalf("update: %v", err)
	}
	if !u.CreatedAt.Equal(created) {
		t.Fatalf("CreatedAt changed on update: %v -> %v", created, u.CreatedAt)
	}
	if u.UpdatedAt.Before(created) {
		t.Fatalf("UpdatedAt %v precedes CreatedAt %v", u.UpdatedAt, created)
	}
}

// seed inserts a development user for local testing. Idempotent: skips when
// dev@example.com already exists.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"

	"mfa-gateway/internal/backup"
	"mfa-gateway/internal/config"
	"mfa-gateway/internal/db"
	"mfa-gateway/internal/provider/totp"
	"mfa-gateway/internal/security"
	"mfa-gateway/internal/user/domain"
	userrepo "mfa-gateway/internal/user/repository"
)

const (
	devUserEmail = "dev@example.com"
	devPassword  = "password123"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	users := userrepo.NewPostgresRepository(conn)
	ctx := context.Background()

	existing, err := users.GetByEmail(ctx, devUserEmail)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Println("Seed already applied (dev@example.com exists). Skipping.")
		os.Exit(0)
	}

	hasher := security.NewHasher(cfg.BcryptCost)
	passwordHash, err := hasher.Hash([]byte(devPassword))
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	strategy := totp.New(totp.Options{Issuer: cfg.Issuer})
	secret, uri, err := strategy.GenerateSecret(devUserEmail)
	if err != nil {
		log.Fatalf("generate totp secret: %v", err)
	}

	u := &domain.User{
		ID:           uuid.New().String(),
		Email:        devUserEmail,
		Name:         "Dev User",
		Roles:        []string{"user"},
		Status:       domain.UserStatusActive,
		PasswordHash: passwordHash,
		TOTPSecret:   secret,
	}
	if err := users.Create(ctx, u); err != nil {
		log.Fatalf("create dev user: %v", err)
	}

	codes, err := backup.NewManager(users, hasher).Generate(ctx, u, 0)
	if err != nil {
		log.Fatalf("generate backup codes: %v", err)
	}

	log.Println("Seed completed successfully.")
	fmt.Printf("Dev login: %s / %s\n", devUserEmail, devPassword)
	fmt.Printf("TOTP provisioning URI: %s\n", uri)
	fmt.Println("Backup codes:")
	for _, c := range codes {
		fmt.Printf("  %s\n", c)
	}
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"mfa-gateway/internal/audit"
	"mfa-gateway/internal/backup"
	"mfa-gateway/internal/condition"
	"mfa-gateway/internal/condition/opa"
	"mfa-gateway/internal/config"
	"mfa-gateway/internal/csrf"
	"mfa-gateway/internal/db"
	"mfa-gateway/internal/db/migrate"
	"mfa-gateway/internal/event"
	"mfa-gateway/internal/httpapi"
	"mfa-gateway/internal/mail"
	"mfa-gateway/internal/metrics"
	"mfa-gateway/internal/orchestration"
	"mfa-gateway/internal/provider"
	"mfa-gateway/internal/provider/email"
	"mfa-gateway/internal/provider/gauth"
	"mfa-gateway/internal/provider/totp"
	"mfa-gateway/internal/provider/webauthnfactor"
	"mfa-gateway/internal/realm"
	"mfa-gateway/internal/security"
	"mfa-gateway/internal/session"
	"mfa-gateway/internal/throttle"
	"mfa-gateway/internal/token"
	"mfa-gateway/internal/trusteddevice"
	userrepo "mfa-gateway/internal/user/repository"
	"mfa-gateway/internal/verify"
)

const tokenTypeFormLogin = "form_login"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var users userrepo.Repository = userrepo.NewMemoryRepository()
	var auditRepo audit.Repository = audit.NewMemoryRepository()
	if cfg.DatabaseURL != "" {
		if err := migrate.Run(cfg.DatabaseURL, "up"); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		sqlDB, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db: %v", err)
		}
		defer sqlDB.Close()
		users = userrepo.NewPostgresRepository(sqlDB)
		auditRepo = audit.NewPostgresRepository(sqlDB)
	} else {
		log.Println("DATABASE_URL not set, using in-memory repositories")
	}

	hasher := security.NewHasher(cfg.BcryptCost)

	registry := provider.NewRegistry()
	registry.MustRegister("totp", totp.New(totp.Options{Issuer: cfg.Issuer}))
	registry.MustRegister("gauth", gauth.New(cfg.Issuer, 1))
	if cfg.MailAPIKey != "" {
		sender := mail.NewAPIClient(cfg.MailAPIKey, cfg.MailAPIBaseURL, cfg.MailSender)
		registry.MustRegister("email", email.New(sender, users, email.Options{}))
	}
	if cfg.WebAuthnRPID != "" {
		web, err := webauthn.New(&webauthn.Config{
			RPID:          cfg.WebAuthnRPID,
			RPDisplayName: cfg.Issuer,
			RPOrigins:     []string{cfg.WebAuthnRPOrigin},
		})
		if err != nil {
			log.Fatalf("webauthn: %v", err)
		}
		registry.MustRegister("webauthn", webauthnfactor.New(web, users))
	}

	bus := event.NewBus()
	var limiter throttle.Limiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		limiter = throttle.NewRedisLimiter(rdb, "mfa:throttle", cfg.ThrottleWindowDuration(), cfg.ThrottleLimit)
	} else {
		limiter = throttle.NewFixedWindowLimiter(cfg.ThrottleWindowDuration(), cfg.ThrottleLimit)
	}
	// Dispatch stops at the first listener error; audit and metrics must see
	// the attempt before the throttle can veto it.
	bus.Subscribe(audit.NewListener(auditRepo))
	bus.Subscribe(metrics.NewListener(prometheus.DefaultRegisterer, "mfa"))
	bus.Subscribe(throttle.NewListener(limiter))

	var conditions []condition.Condition
	if entries := cfg.IPAllowlistEntries(); len(entries) > 0 {
		allow, err := condition.NewIPAllowlist(entries...)
		if err != nil {
			log.Fatalf("ip allowlist: %v", err)
		}
		conditions = append(conditions, allow)
	}
	if cfg.BypassPolicy != "" {
		policy, err := opa.New(cfg.BypassPolicy)
		if err != nil {
			log.Fatalf("bypass policy: %v", err)
		}
		conditions = append(conditions, policy)
	}
	conditions = append(conditions, condition.NewTrustedDevice(cfg.ExtendTrust))

	rl, err := realm.New(realm.Params{
		Name:                  cfg.RealmName,
		MultiFactor:           cfg.MultiFactor,
		CSRFEnabled:           cfg.CSRFEnabled,
		PostSuccessRedirect:   cfg.PostSuccessRedirect,
		RememberMeSetsTrusted: cfg.RememberMeSetsTrusted,
	})
	if err != nil {
		log.Fatalf("realm: %v", err)
	}

	orch := orchestration.NewService(registry, condition.NewChain(conditions...), bus, cfg.ExtendTrust, tokenTypeFormLogin)
	verifier := verify.NewService(registry, backup.NewManager(users, hasher), csrf.NewManager(), bus)
	devices := trusteddevice.NewManager([]byte(cfg.TrustedDeviceKey), cfg.Issuer, cfg.TrustedDeviceLifetime())
	opener := session.NewCookieStores(sessions.NewCookieStore([]byte(cfg.SessionKey)), "mfa_session")

	api := httpapi.NewServer(rl, users, orch, verifier, opener, devices, token.NewCodec(), hasher)

	if cfg.MetricsAddr != "" {
		go func() {
			log.Printf("metrics listening on %s", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, promhttp.Handler()); err != nil {
				log.Fatalf("metrics: %v", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down HTTP server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	log.Println("HTTP server stopped")
}

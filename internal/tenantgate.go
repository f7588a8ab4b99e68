package internal

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meridianhq/tenantgate/internal/authflow"
	"github.com/meridianhq/tenantgate/internal/config"
	"github.com/meridianhq/tenantgate/internal/idp"
	"github.com/meridianhq/tenantgate/internal/log"
	"github.com/meridianhq/tenantgate/internal/server"
	"github.com/meridianhq/tenantgate/internal/session"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// TenantGate is the complete relying-party application.
type TenantGate struct {
	config     config.Config
	httpServer *server.HTTPServer
}

// NewTenantGate builds the application with all dependencies wired.
func NewTenantGate(ctx context.Context, cfg config.Config) (*TenantGate, error) {
	log.LogInfoWithFields("tenantgate", "Building application", map[string]any{
		"idp_domain":    cfg.IdentityServiceDomain,
		"session_store": cfg.SessionStore,
	})

	client := idp.NewClient(cfg.IdentityServiceDomain, cfg.ClientID, string(cfg.ClientSecret))

	engine, err := authflow.NewEngine(authflow.Config{
		ClientID:                        cfg.ClientID,
		ClientSecret:                    string(cfg.ClientSecret),
		LoginStateSecret:                string(cfg.LoginStateSecret),
		LoginURL:                        cfg.LoginURL,
		RedirectURI:                     cfg.RedirectURI,
		IdentityServiceDomain:           cfg.IdentityServiceDomain,
		CustomApplicationLoginPageURL:   cfg.CustomApplicationLoginPageURL,
		DangerouslyDisableSecureCookies: cfg.DangerouslyDisableSecureCookies,
		RootDomain:                      cfg.RootDomain,
		Scopes:                          cfg.Scopes,
		UseCustomDomains:                cfg.UseCustomDomains,
		UseTenantSubdomains:             cfg.UseTenantSubdomains,
	}, client)
	if err != nil {
		return nil, fmt.Errorf("building flow engine: %w", err)
	}

	store, err := setupSessionStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("setting up session store: %w", err)
	}

	sessions, err := session.NewManager(string(cfg.SessionCookieSecret), store, !cfg.DangerouslyDisableSecureCookies)
	if err != nil {
		return nil, fmt.Errorf("building session manager: %w", err)
	}

	handlers := server.NewAuthHandlers(engine, sessions, cfg.HomeURL)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", server.HealthHandler)
	mux.HandleFunc("GET /api/auth/login", handlers.LoginHandler)
	mux.HandleFunc("GET /api/auth/callback", handlers.CallbackHandler)
	mux.HandleFunc("POST /api/auth/callback", handlers.CallbackHandler)
	mux.HandleFunc("GET /api/auth/logout", handlers.LogoutHandler)
	mux.HandleFunc("POST /api/auth/logout", handlers.LogoutHandler)
	mux.HandleFunc("GET /api/session", handlers.SessionHandler)
	mux.HandleFunc("GET /api/token", handlers.TokenHandler)
	mux.HandleFunc("GET /api/nickname", server.NicknameHandler)

	handler := server.ChainMiddleware(mux,
		server.NewRequestGateMiddleware(engine, sessions, server.GateConfig{
			PublicPaths:    []string{"/api/auth/login", "/api/auth/callback", "/api/auth/logout", "/healthz"},
			PublicPrefixes: []string{"/static/"},
		}),
		server.NewLoggerMiddleware("http"),
		server.NewRecoverMiddleware("http"),
	)

	return &TenantGate{
		config:     cfg,
		httpServer: server.NewHTTPServer(handler, cfg.Addr),
	}, nil
}

func setupSessionStore(ctx context.Context, cfg config.Config) (session.Store, error) {
	switch cfg.SessionStore {
	case "memory":
		return session.NewMemoryStore(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return session.NewRedisStore(client), nil
	default:
		// Encrypted cookie. No server-side state.
		return nil, nil
	}
}

// Run starts the HTTP server and blocks until shutdown.
func (t *TenantGate) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(t.httpServer.Start)
	g.Go(func() error {
		<-ctx.Done()
		log.LogInfoWithFields("tenantgate", "Shutting down", nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return t.httpServer.Stop(shutdownCtx)
	})
	return g.Wait()
}

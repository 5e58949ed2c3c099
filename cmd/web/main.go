package main

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	scs "github.com/alexedwards/scs/v2"
	"github.com/gregjones/httpcache"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/analogous-app/analogous/imgcache"
	"github.com/analogous-app/analogous/internal/analogy"
	"github.com/analogous-app/analogous/internal/auth"
	"github.com/analogous-app/analogous/internal/billing"
	"github.com/analogous-app/analogous/internal/config"
	"github.com/analogous-app/analogous/internal/email"
	"github.com/analogous-app/analogous/internal/http/routes"
	"github.com/analogous-app/analogous/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	log.Printf("starting app on :%d", cfg.Port)

	// Image cache
	cache := imgcache.New(
		imgcache.WithTTL(cfg.ImageCache.TTL),
		imgcache.WithSweepInterval(cfg.ImageCache.SweepInterval),
		imgcache.WithLogger(logger),
	)
	defer cache.Close()

	// Sessions
	sess := scs.New()
	sess.Lifetime = cfg.SessionLifetime
	sess.Cookie.HttpOnly = true
	sess.Cookie.SameSite = http.SameSiteLaxMode
	sess.Cookie.Secure = false

	// Templates
	tmpl := template.Must(template.ParseGlob("web/templates/*.tmpl"))

	// Supabase auth
	authClient, err := auth.New(cfg.Supabase.URL, cfg.Supabase.AnonKey)
	if err != nil {
		log.Fatalf("auth client error: %v", err)
	}

	// Analogy backend. List and streak responses honor cache headers,
	// so the shared client rides on an in-memory HTTP cache.
	backendHTTP := &http.Client{
		Transport: httpcache.NewMemoryCacheTransport(),
		Timeout:   2 * time.Minute,
	}
	backend, err := analogy.New(cfg.Backend.URL, analogy.WithHTTPClient(backendHTTP))
	if err != nil {
		log.Fatalf("backend client error: %v", err)
	}

	// Stripe billing, only when configured
	var billingSvc *billing.Service
	if cfg.HasStripe() {
		billingSvc = billing.NewService(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, cfg.Stripe.ScholarPriceID, cfg.BaseURL)
	}

	// Google sign-in, only when configured
	var google *auth.GoogleOAuth
	if cfg.HasGoogleOAuth() {
		google = auth.NewGoogleOAuth(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.BaseURL+"/oauth/google/callback")
	}

	// Mail sender (MailHog on localhost:1025 by default)
	sender := email.NewSMTPSender(cfg.SMTP.Addr, cfg.SMTP.From)

	// Router / server
	s := routes.New(routes.ServerOptions{
		Sess:      sess,
		Tmpl:      tmpl,
		Cache:     cache,
		Auth:      authClient,
		Analogies: backend,
		Billing:   billingSvc,
		Google:    google,
		Metrics:   metrics.New("analogous", cache.Stats),
		Email:     sender,
		Cfg:       cfg,
	})
	h := hlog.NewHandler(logger)(s.Router)

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: sess.LoadAndSave(h)}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

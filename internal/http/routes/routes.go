package routes

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	scs "github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/hlog"

	"github.com/analogous-app/analogous/imgcache"
	"github.com/analogous-app/analogous/internal/analogy"
	"github.com/analogous-app/analogous/internal/auth"
	"github.com/analogous-app/analogous/internal/billing"
	"github.com/analogous-app/analogous/internal/config"
	"github.com/analogous-app/analogous/internal/email"
	appmw "github.com/analogous-app/analogous/internal/http/middleware"
	"github.com/analogous-app/analogous/internal/metrics"
)

// maxWebhookBody caps how much of a webhook request we read.
const maxWebhookBody = 64 << 10

type Server struct {
	Router    *chi.Mux
	Sess      *scs.SessionManager
	Tmpl      *template.Template
	Cache     *imgcache.Cache
	Auth      *auth.Client
	Analogies *analogy.Client
	Billing   *billing.Service  // nil when Stripe is not configured
	Google    *auth.GoogleOAuth // nil when Google sign-in is not configured
	State     auth.StateSigner  // signs the oauth2 state param
	Metrics   *metrics.Metrics
	Email     email.Sender
	BaseURL   string
}

type ServerOptions struct {
	Sess      *scs.SessionManager
	Tmpl      *template.Template
	Cache     *imgcache.Cache
	Auth      *auth.Client
	Analogies *analogy.Client
	Billing   *billing.Service
	Google    *auth.GoogleOAuth
	Metrics   *metrics.Metrics
	Email     email.Sender
	Cfg       *config.Config
}

func New(opts ServerOptions) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	s := &Server{
		Router:    r,
		Sess:      opts.Sess,
		Tmpl:      opts.Tmpl,
		Cache:     opts.Cache,
		Auth:      opts.Auth,
		Analogies: opts.Analogies,
		Billing:   opts.Billing,
		Google:    opts.Google,
		State:     auth.StateSigner{Secret: []byte(opts.Cfg.SessionSecret)},
		Metrics:   opts.Metrics,
		Email:     opts.Email,
		BaseURL:   opts.Cfg.BaseURL,
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			log.Printf("Error writing health check response: %v", err)
		}
	})
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.Handler())
	}

	r.Get("/", s.handleHome)
	r.Get("/pricing", s.handlePricing)
	r.Get("/login", s.handleLoginPage)
	r.Post("/login", s.handleSignIn)
	r.Get("/signup", s.handleSignupPage)
	r.Post("/signup", s.handleSignUp)
	r.Get("/auth/recover", s.handleRecoverPage)
	r.Post("/auth/recover", s.handleRecover)
	r.Get("/oauth/google/start", s.handleGoogleStart)
	r.Get("/oauth/google/callback", s.handleGoogleCallback)
	r.Post("/api/password-strength", s.handlePasswordStrength)
	r.Post("/billing/webhook", s.handleStripeWebhook)

	r.Group(func(pr chi.Router) {
		pr.Use(s.sessionToContext)
		pr.Use(appmw.RequireAuth)
		pr.Get("/dashboard", s.handleDashboard)
		pr.Get("/analogies/{analogyID}", s.handleAnalogyShow)
		pr.Post("/analogies/generate", s.handleGenerateAnalogy)
		pr.Post("/analogies/{analogyID}/delete", s.handleDeleteAnalogy)
		pr.Get("/account", s.handleAccount)
		pr.Post("/account/password", s.handleChangePassword)
		pr.Post("/logout", s.handleLogout)
		pr.Post("/billing/checkout", s.handleCheckout)
		pr.Post("/billing/portal", s.handlePortal)
		pr.Post("/api/cache/purge", s.handleCachePurge)
	})

	return s
}

func (s *Server) sessionToContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := s.Sess.GetString(r.Context(), "user_id"); id != "" {
			// use the SAME key that RequireAuth checks
			r = r.WithContext(context.WithValue(r.Context(), appmw.UserIDKey, id))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.Tmpl.ExecuteTemplate(w, name, data); err != nil {
		log.Printf("render template %s failed: %v", name, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) establishSession(r *http.Request, sess *auth.Session) {
	if err := s.Sess.RenewToken(r.Context()); err != nil {
		log.Printf("[auth] renew session token failed: %v", err)
	}
	s.Sess.Put(r.Context(), "user_id", sess.User.ID)
	s.Sess.Put(r.Context(), "user_email", sess.User.Email)
	s.Sess.Put(r.Context(), "access_token", sess.AccessToken)
	s.Sess.Put(r.Context(), "refresh_token", sess.RefreshToken)
	s.Sess.Put(r.Context(), "plan", billing.PlanFree)
}

// ---- Public pages

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	s.render(w, "home", map[string]any{
		"Title":  "Analogous",
		"Authed": s.Sess.GetString(r.Context(), "user_id") != "",
	})
}

func (s *Server) handlePricing(w http.ResponseWriter, r *http.Request) {
	s.render(w, "pricing", map[string]any{
		"Title":      "Pricing",
		"HasBilling": s.Billing != nil,
	})
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, "login", map[string]any{
		"Title":     "Log in",
		"HasGoogle": s.Google != nil,
	})
}

func (s *Server) handleSignupPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, "signup", map[string]any{"Title": "Sign up"})
}

func (s *Server) handleRecoverPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, "recover", map[string]any{"Title": "Reset password"})
}

// ---- Email and password auth

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", 400)
		return
	}
	emailAddr := strings.TrimSpace(r.Form.Get("email"))
	password := r.Form.Get("password")
	if emailAddr == "" || password == "" {
		s.render(w, "login", map[string]any{
			"Title": "Log in", "Error": "Email and password are required", "HasGoogle": s.Google != nil,
		})
		return
	}

	sess, err := s.Auth.SignIn(r.Context(), emailAddr, password)
	if err != nil {
		var ae *auth.AuthError
		if errors.As(err, &ae) && ae.Status < 500 {
			s.render(w, "login", map[string]any{
				"Title": "Log in", "Error": "Wrong email or password", "HasGoogle": s.Google != nil,
			})
			return
		}
		log.Printf("[auth] sign in failed for %s: %v", emailAddr, err)
		http.Error(w, "could not sign in", 500)
		return
	}

	s.establishSession(r, sess)
	http.Redirect(w, r, "/dashboard", http.StatusFound)
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", 400)
		return
	}
	emailAddr := strings.TrimSpace(r.Form.Get("email"))
	password := r.Form.Get("password")
	confirm := r.Form.Get("confirm")

	if emailAddr == "" || password == "" {
		s.render(w, "signup", map[string]any{"Title": "Sign up", "Error": "Email and password are required"})
		return
	}
	if confirm != "" && confirm != password {
		s.render(w, "signup", map[string]any{"Title": "Sign up", "Error": "Passwords do not match", "Email": emailAddr})
		return
	}
	if err := auth.CheckPassword(password, []string{emailAddr}); err != nil {
		s.render(w, "signup", map[string]any{
			"Title": "Sign up", "Error": "That password is too easy to guess", "Email": emailAddr,
		})
		return
	}

	sess, err := s.Auth.SignUp(r.Context(), emailAddr, password)
	if err != nil {
		var ae *auth.AuthError
		if errors.As(err, &ae) && ae.Status < 500 {
			s.render(w, "signup", map[string]any{"Title": "Sign up", "Error": ae.Message, "Email": emailAddr})
			return
		}
		log.Printf("[auth] sign up failed for %s: %v", emailAddr, err)
		http.Error(w, "could not sign up", 500)
		return
	}

	// Send welcome email if sender is configured
	if s.Email != nil {
		html := "<p>Welcome to Analogous! Generate your first analogy and start a streak.</p>"
		if err := s.Email.Send(emailAddr, "Welcome to Analogous", html); err != nil {
			log.Printf("failed to send welcome email to %s: %v", emailAddr, err)
		}
	}

	if sess.AccessToken == "" {
		s.render(w, "signup_confirm", map[string]any{"Title": "Confirm your email", "Email": emailAddr})
		return
	}
	s.establishSession(r, sess)
	http.Redirect(w, r, "/dashboard", http.StatusFound)
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", 400)
		return
	}
	emailAddr := strings.TrimSpace(r.Form.Get("email"))
	if emailAddr == "" {
		http.Error(w, "email required", 400)
		return
	}

	if err := s.Auth.Recover(r.Context(), emailAddr); err != nil {
		// Do not reveal whether the address exists
		log.Printf("[auth] recover failed for %s: %v", emailAddr, err)
	}
	s.render(w, "recover_sent", map[string]any{"Title": "Check your email", "Email": emailAddr})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := s.Sess.GetString(r.Context(), "access_token"); token != "" {
		if err := s.Auth.SignOut(r.Context(), token); err != nil {
			log.Printf("[auth] sign out failed: %v", err)
		}
	}
	if err := s.Sess.Destroy(r.Context()); err != nil {
		log.Printf("[auth] destroy session failed: %v", err)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handlePasswordStrength(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password   string   `json:"password"`
		UserInputs []string `json:"user_inputs"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		http.Error(w, "bad request", 400)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]int{
		"score": auth.PasswordStrength(req.Password, req.UserInputs),
	}); err != nil {
		log.Printf("Error writing password strength response: %v", err)
	}
}

// ---- Google sign-in

func (s *Server) handleGoogleStart(w http.ResponseWriter, r *http.Request) {
	if s.Google == nil {
		http.Error(w, "google sign-in not configured", http.StatusNotFound)
		return
	}
	redirect := r.URL.Query().Get("next")
	if !strings.HasPrefix(redirect, "/") {
		redirect = "/dashboard"
	}
	state := s.State.Sign(redirect, time.Now().Add(30*time.Minute))
	http.Redirect(w, r, s.Google.AuthCodeURL(state), http.StatusFound)
}

func (s *Server) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if s.Google == nil {
		http.Error(w, "google sign-in not configured", http.StatusNotFound)
		return
	}
	redirect, err := s.State.Verify(r.URL.Query().Get("state"))
	if err != nil {
		log.Printf("[oauth] state verify failed: %v", err)
		http.Error(w, "invalid state", 400)
		return
	}

	id, err := s.Google.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		log.Printf("[oauth] google exchange failed: %v", err)
		http.Error(w, "could not complete sign-in", 500)
		return
	}

	if err := s.Sess.RenewToken(r.Context()); err != nil {
		log.Printf("[auth] renew session token failed: %v", err)
	}
	s.Sess.Put(r.Context(), "user_id", id.Subject)
	s.Sess.Put(r.Context(), "user_email", id.Email)
	s.Sess.Put(r.Context(), "plan", billing.PlanFree)
	http.Redirect(w, r, redirect, http.StatusFound)
}

// ---- Analogies

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	userID := s.Sess.GetString(r.Context(), "user_id")
	token := s.Sess.GetString(r.Context(), "access_token")

	list, err := s.Analogies.ListByUser(r.Context(), token, userID)
	if err != nil {
		log.Printf("[dashboard] list analogies failed: %v", err)
		http.Error(w, "could not load analogies", 500)
		return
	}

	// Warm every illustration before the browser asks for them.
	var srcs []string
	for _, a := range list {
		srcs = append(srcs, a.ImageURLs...)
	}
	s.Cache.Preload(r.Context(), srcs)

	// template.URL keeps html/template from rejecting data: URIs in src
	// attributes.
	type card struct {
		analogy.Analogy
		Thumb template.URL
	}
	cards := make([]card, 0, len(list))
	for _, a := range list {
		c := card{Analogy: a}
		if len(a.ImageURLs) > 0 {
			c.Thumb = template.URL(s.Cache.Resolve(r.Context(), a.ImageURLs[0]))
		}
		cards = append(cards, c)
	}

	var streak *analogy.Streak
	if st, err := s.Analogies.Streak(r.Context(), token, userID); err != nil {
		log.Printf("[dashboard] streak lookup failed: %v", err)
	} else {
		streak = st
	}

	s.render(w, "dashboard", map[string]any{
		"Title":     "Dashboard",
		"Email":     s.Sess.GetString(r.Context(), "user_email"),
		"Analogies": cards,
		"Streak":    streak,
	})
}

func (s *Server) handleAnalogyShow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "analogyID")
	token := s.Sess.GetString(r.Context(), "access_token")

	a, err := s.Analogies.Get(r.Context(), token, id)
	if err != nil {
		var ae *analogy.APIError
		if errors.As(err, &ae) && ae.Status == http.StatusNotFound {
			http.Error(w, "analogy not found", http.StatusNotFound)
			return
		}
		log.Printf("[analogy] fetch %s failed: %v", id, err)
		http.Error(w, "could not load analogy", 500)
		return
	}

	images := make([]template.URL, 0, len(a.ImageURLs))
	for _, src := range a.ImageURLs {
		images = append(images, template.URL(s.Cache.Resolve(r.Context(), src)))
	}

	s.render(w, "analogy", map[string]any{
		"Title":   a.Content.Title,
		"Analogy": a,
		"Images":  images,
	})
}

func (s *Server) handleGenerateAnalogy(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", 400)
		return
	}
	topic := strings.TrimSpace(r.Form.Get("topic"))
	audience := strings.TrimSpace(r.Form.Get("audience"))
	if topic == "" || audience == "" {
		http.Error(w, "topic and audience required", 400)
		return
	}

	userID := s.Sess.GetString(r.Context(), "user_id")
	token := s.Sess.GetString(r.Context(), "access_token")

	a, err := s.Analogies.Generate(r.Context(), token, topic, audience, userID)
	if err != nil {
		log.Printf("[analogy] generate failed for user %s: %v", userID, err)
		http.Error(w, "could not generate analogy", 500)
		return
	}

	s.Cache.Preload(r.Context(), a.ImageURLs)
	http.Redirect(w, r, "/analogies/"+a.ID, http.StatusSeeOther)
}

func (s *Server) handleDeleteAnalogy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "analogyID")
	token := s.Sess.GetString(r.Context(), "access_token")

	if err := s.Analogies.Delete(r.Context(), token, id); err != nil {
		log.Printf("[analogy] delete %s failed: %v", id, err)
		http.Error(w, "could not delete analogy", 500)
		return
	}
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// ---- Account

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	userID := s.Sess.GetString(r.Context(), "user_id")
	token := s.Sess.GetString(r.Context(), "access_token")

	data := map[string]any{
		"Title":             "Account",
		"Email":             s.Sess.GetString(r.Context(), "user_email"),
		"Plan":              s.Sess.GetString(r.Context(), "plan"),
		"HasBilling":        s.Billing != nil,
		"CanChangePassword": token != "",
	}

	if r.URL.Query().Get("checkout") == "success" {
		s.Sess.Put(r.Context(), "plan", billing.PlanScholar)
		data["Plan"] = billing.PlanScholar
		data["Upgraded"] = true
	}

	if token != "" {
		if u, err := s.Auth.CurrentUser(r.Context(), token); err != nil {
			log.Printf("[account] user lookup failed: %v", err)
		} else {
			data["Email"] = u.Email
		}
	}

	if n, err := s.Analogies.Count(r.Context(), token, userID); err == nil {
		data["Count"] = n
	}
	if n, err := s.Analogies.LifetimeCount(r.Context(), token, userID); err == nil {
		data["LifetimeCount"] = n
	}

	s.render(w, "account", data)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	token := s.Sess.GetString(r.Context(), "access_token")
	if token == "" {
		http.Error(w, "password change requires email sign-in", 400)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", 400)
		return
	}

	emailAddr := s.Sess.GetString(r.Context(), "user_email")
	password := r.Form.Get("password")
	if err := auth.CheckPassword(password, []string{emailAddr}); err != nil {
		s.render(w, "account", map[string]any{
			"Title": "Account", "Email": emailAddr,
			"Plan":              s.Sess.GetString(r.Context(), "plan"),
			"HasBilling":        s.Billing != nil,
			"CanChangePassword": true,
			"Error":             "That password is too easy to guess",
		})
		return
	}

	if _, err := s.Auth.UpdatePassword(r.Context(), token, password); err != nil {
		log.Printf("[account] password update failed: %v", err)
		http.Error(w, "could not update password", 500)
		return
	}
	http.Redirect(w, r, "/account", http.StatusSeeOther)
}

// ---- Billing

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if s.Billing == nil {
		http.Error(w, "billing not configured", http.StatusNotFound)
		return
	}
	emailAddr := s.Sess.GetString(r.Context(), "user_email")
	userID := s.Sess.GetString(r.Context(), "user_id")

	u, err := s.Billing.CheckoutURL(r.Context(), emailAddr, userID)
	if err != nil {
		log.Printf("[billing] checkout failed for %s: %v", userID, err)
		http.Error(w, "could not start checkout", 500)
		return
	}
	http.Redirect(w, r, u, http.StatusSeeOther)
}

func (s *Server) handlePortal(w http.ResponseWriter, r *http.Request) {
	if s.Billing == nil {
		http.Error(w, "billing not configured", http.StatusNotFound)
		return
	}
	u, err := s.Billing.PortalURL(r.Context(), s.Sess.GetString(r.Context(), "user_email"))
	if errors.Is(err, billing.ErrNoCustomer) {
		http.Redirect(w, r, "/pricing", http.StatusSeeOther)
		return
	}
	if err != nil {
		log.Printf("[billing] portal failed: %v", err)
		http.Error(w, "could not open billing portal", 500)
		return
	}
	http.Redirect(w, r, u, http.StatusSeeOther)
}

func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if s.Billing == nil {
		http.Error(w, "billing not configured", http.StatusNotFound)
		return
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "bad request", 400)
		return
	}

	event, err := s.Billing.ParseEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		log.Printf("[billing] webhook verify failed: %v", err)
		http.Error(w, "bad signature", 400)
		return
	}

	s.Billing.HandleEvent(*hlog.FromRequest(r), event)
	w.WriteHeader(http.StatusOK)
}

// ---- Cache operations

func (s *Server) handleCachePurge(w http.ResponseWriter, r *http.Request) {
	s.Cache.Clear()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Cache.Stats()); err != nil {
		log.Printf("Error writing cache purge response: %v", err)
	}
}

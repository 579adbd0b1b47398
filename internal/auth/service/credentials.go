package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/events"
	"github.com/aussiebroadwan/authcore/internal/auth/session"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	maxPrincipalLen   = 128
	minPasswordLen    = 8
	reasonInvalidOTP  = "invalid_otp"
	reasonSessionCap  = "session_limit"
	metadataClient    = "client"
	metadataPrevious  = "previous_jti"
	metadataRevoked   = "count"
	metadataKeyID     = "kid"
	outcomeSuccess    = "success"
	outcomeFailure    = "failure"
	outcomeDependency = "unavailable"
)

// AuthenticateInput is a login attempt.
type AuthenticateInput struct {
	Principal string
	Password  string

	// OTP is required when the principal has a TOTP secret enrolled.
	OTP string

	Client session.Client

	// TTL requests a token lifetime; zero uses the configured default.
	TTL time.Duration
}

// Authenticate checks a principal's password (and second factor when
// enrolled) and issues a token recorded as a new session.
//
// Unknown principals and wrong passwords are indistinguishable: both verify
// one hash and return ErrInvalidCredentials.
func (e *Engine) Authenticate(ctx context.Context, in AuthenticateInput) (jwtx.Token, error) {
	l := slogx.FromContext(ctx)

	principal := strings.TrimSpace(in.Principal)
	if principal == "" || in.Password == "" {
		return jwtx.Token{}, ErrInvalidInput
	}

	p, err := e.Directory.LookupPrincipal(ctx, principal)
	known := err == nil
	hash := p.PasswordHash
	switch {
	case errors.Is(err, store.ErrNotFound):
		hash = e.dummyHash
	case err != nil:
		e.Metrics.AuthAttempts.WithLabelValues(outcomeDependency).Inc()
		l.Error("principal lookup failed", slog.String("principal", principal), slog.Any("error", err))
		return jwtx.Token{}, unavailable("directory", err)
	}

	ok, err := e.Hasher.Verify(in.Password, hash)
	if err != nil {
		l.Warn("password verification error", slog.String("principal", principal), slog.Any("error", err))
	}
	if !known || !ok {
		return jwtx.Token{}, e.loginFailed(ctx, principal, ErrInvalidCredentials.Error())
	}

	if p.HasTOTP() {
		if in.OTP == "" || !totp.Validate(in.OTP, p.TOTPSecret) {
			return jwtx.Token{}, e.loginFailed(ctx, principal, reasonInvalidOTP)
		}
	}

	tok, err := e.Codec.Issue(p.ID, p.Scopes, e.ttl(in.TTL))
	if err != nil {
		return jwtx.Token{}, err
	}

	evicted, err := e.Sessions.Record(ctx, e.newSession(tok, in.Client))
	if err != nil {
		e.Metrics.AuthAttempts.WithLabelValues(outcomeDependency).Inc()
		l.Error("session record failed", slog.String("principal", p.ID), slog.Any("error", err))
		return jwtx.Token{}, unavailable("sessions", err)
	}

	e.Metrics.AuthAttempts.WithLabelValues(outcomeSuccess).Inc()
	e.publish(ctx, events.Event{
		Type:      events.TypeLoginSuccess,
		Principal: p.ID,
		TokenID:   tok.ID,
		Metadata:  clientMetadata(in.Client),
	})
	e.publish(ctx, events.Event{
		Type:      events.TypeTokenIssued,
		Principal: p.ID,
		TokenID:   tok.ID,
	})
	e.publishEvicted(ctx, evicted)

	e.rehash(ctx, p, in.Password)

	l.Info("principal authenticated", slog.String("principal", p.ID), slog.String("jti", tok.ID))
	return tok, nil
}

func (e *Engine) loginFailed(ctx context.Context, principal, reason string) error {
	e.Metrics.AuthAttempts.WithLabelValues(outcomeFailure).Inc()
	slogx.FromContext(ctx).Info("authentication failed",
		slog.String("principal", principal),
		slog.String("reason", reason),
	)
	e.publish(ctx, events.Event{
		Type:      events.TypeLoginFailure,
		Principal: principal,
		Outcome:   events.OutcomeFailure,
		Reason:    reason,
	})
	return ErrInvalidCredentials
}

// rehash upgrades a stored hash made with a weaker cost or another
// algorithm. Failures only cost the upgrade.
func (e *Engine) rehash(ctx context.Context, p domain.Principal, password string) {
	if !e.Hasher.NeedsRehash(p.PasswordHash) {
		return
	}
	l := slogx.FromContext(ctx)

	hash, err := e.Hasher.Hash(password)
	if err != nil {
		l.Warn("rehash failed", slog.String("principal", p.ID), slog.Any("error", err))
		return
	}
	if err := e.Directory.UpdatePasswordHash(ctx, p.ID, hash); err != nil {
		l.Warn("rehash not stored", slog.String("principal", p.ID), slog.Any("error", err))
		return
	}
	l.Info("password hash upgraded", slog.String("principal", p.ID), slog.String("algorithm", e.Hasher.Algorithm()))
}

// RegisterInput creates a principal with the configured default scopes.
type RegisterInput struct {
	Principal string
	Password  string
}

// Register creates a principal. Duplicate ids fail with ErrPrincipalExists.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (domain.Principal, error) {
	principal := strings.TrimSpace(in.Principal)
	if !validPrincipalID(principal) || len(in.Password) < minPasswordLen {
		return domain.Principal{}, ErrInvalidInput
	}

	hash, err := e.Hasher.Hash(in.Password)
	if err != nil {
		if errors.Is(err, cryptox.ErrPasswordTooLong) || errors.Is(err, cryptox.ErrInvalidInput) {
			return domain.Principal{}, ErrInvalidInput
		}
		return domain.Principal{}, err
	}

	now := e.Clock.Now().UTC()
	p := domain.Principal{
		ID:           principal,
		PasswordHash: hash,
		Scopes:       append([]string(nil), e.Config.DefaultScopes...),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := e.Directory.CreatePrincipal(ctx, p); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.Principal{}, ErrPrincipalExists
		}
		return domain.Principal{}, unavailable("directory", err)
	}

	e.publish(ctx, events.Event{Type: events.TypePrincipalRegistered, Principal: p.ID})
	slogx.FromContext(ctx).Info("principal registered", slog.String("principal", p.ID))

	p.PasswordHash = ""
	return p, nil
}

// validPrincipalID accepts printable ids without whitespace.
func validPrincipalID(id string) bool {
	if id == "" || len(id) > maxPrincipalLen {
		return false
	}
	for _, r := range id {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// TOTPEnrollment is returned once; the secret is not retrievable later.
type TOTPEnrollment struct {
	Secret string
	URL    string
}

// EnrollTOTP creates a TOTP secret for the token's subject. Later logins must
// present a code.
func (e *Engine) EnrollTOTP(ctx context.Context, token string) (TOTPEnrollment, error) {
	claims, err := e.Validate(ctx, token)
	if err != nil {
		return TOTPEnrollment{}, err
	}

	p, err := e.Directory.LookupPrincipal(ctx, claims.Subject)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return TOTPEnrollment{}, ErrForbidden
	case err != nil:
		return TOTPEnrollment{}, unavailable("directory", err)
	}
	if p.HasTOTP() {
		return TOTPEnrollment{}, ErrTOTPAlreadyEnrolled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.Config.TOTPIssuer,
		AccountName: p.ID,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return TOTPEnrollment{}, err
	}

	if err := e.Directory.UpdateTOTPSecret(ctx, p.ID, key.Secret()); err != nil {
		return TOTPEnrollment{}, unavailable("directory", err)
	}

	e.publish(ctx, events.Event{Type: events.TypeTOTPEnrolled, Principal: p.ID})
	return TOTPEnrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

func clientMetadata(c session.Client) map[string]string {
	md := map[string]string{}
	if c.Name != "" {
		md[metadataClient] = c.Name
	}
	if c.Address != "" {
		md["address"] = c.Address
	}
	if c.UserAgent != "" {
		md["user_agent"] = c.UserAgent
	}
	if len(md) == 0 {
		return nil
	}
	return md
}

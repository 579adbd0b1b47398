// Package rpc exposes the credential engine as authcore.v1.AuthService.
package rpc

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/internal/auth/session"
	"github.com/aussiebroadwan/authcore/pkg/authapi"
	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// Server implements authapi.AuthServiceServer on top of the engine.
type Server struct {
	authapi.UnimplementedAuthServiceServer

	Engine *service.Engine

	// Keys serves RotateSigningKey. Nil disables the method.
	Keys *service.KeyRotationService
}

// NewServer returns a Server for engine and keys.
func NewServer(engine *service.Engine, keys *service.KeyRotationService) *Server {
	return &Server{Engine: engine, Keys: keys}
}

func (s *Server) Authenticate(ctx context.Context, req *authapi.AuthenticateRequest) (*authapi.Token, error) {
	tok, err := s.Engine.Authenticate(ctx, service.AuthenticateInput{
		Principal: req.Principal,
		Password:  req.Password,
		OTP:       req.OTP,
		Client:    clientFrom(ctx, req.Client),
		TTL:       time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return tokenResponse(tok), nil
}

func (s *Server) Validate(ctx context.Context, req *authapi.ValidateRequest) (*authapi.ValidateResponse, error) {
	ctx = slogx.With(ctx, "token_fp", cryptox.FingerprintToken(req.Token))
	claims, err := s.Engine.Validate(ctx, req.Token)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &authapi.ValidateResponse{
		Subject:   claims.Subject,
		TokenID:   claims.TokenID(),
		Issuer:    claims.Issuer,
		Scopes:    claims.Scopes,
		IssuedAt:  claims.Issued(),
		ExpiresAt: claims.Expiry(),
	}, nil
}

func (s *Server) Refresh(ctx context.Context, req *authapi.RefreshRequest) (*authapi.Token, error) {
	ctx = slogx.With(ctx, "token_fp", cryptox.FingerprintToken(req.Token))
	tok, err := s.Engine.Refresh(ctx, req.Token, clientFrom(ctx, req.Client))
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return tokenResponse(tok), nil
}

func (s *Server) Revoke(ctx context.Context, req *authapi.RevokeRequest) (*authapi.RevokeResponse, error) {
	ctx = slogx.With(ctx, "token_fp", cryptox.FingerprintToken(req.Token))
	if err := s.Engine.Revoke(ctx, req.Token); err != nil {
		return nil, toStatus(ctx, err)
	}
	return &authapi.RevokeResponse{}, nil
}

func (s *Server) RevokeAllSessions(ctx context.Context, req *authapi.RevokeAllSessionsRequest) (*authapi.RevokeAllSessionsResponse, error) {
	principal, err := s.sessionTarget(ctx, req.Principal)
	if err != nil {
		return nil, err
	}
	n, err := s.Engine.RevokeAllSessions(ctx, principal)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &authapi.RevokeAllSessionsResponse{Revoked: n}, nil
}

func (s *Server) ListSessions(ctx context.Context, req *authapi.ListSessionsRequest) (*authapi.ListSessionsResponse, error) {
	principal, err := s.sessionTarget(ctx, req.Principal)
	if err != nil {
		return nil, err
	}
	sessions, err := s.Engine.ListSessions(ctx, principal)
	if err != nil {
		return nil, toStatus(ctx, err)
	}

	resp := &authapi.ListSessionsResponse{Sessions: make([]authapi.Session, 0, len(sessions))}
	for _, sess := range sessions {
		resp.Sessions = append(resp.Sessions, authapi.Session{
			TokenID:   sess.TokenID,
			CreatedAt: sess.CreatedAt,
			LastSeen:  sess.LastSeen,
			ExpiresAt: sess.ExpiresAt,
			Client:    authapi.Client{Name: sess.Client.Name, UserAgent: sess.Client.UserAgent},
			Address:   sess.Client.Address,
		})
	}
	return resp, nil
}

func (s *Server) Register(ctx context.Context, req *authapi.RegisterRequest) (*authapi.RegisterResponse, error) {
	p, err := s.Engine.Register(ctx, service.RegisterInput{Principal: req.Principal, Password: req.Password})
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &authapi.RegisterResponse{Principal: p.ID, Scopes: p.Scopes, CreatedAt: p.CreatedAt}, nil
}

func (s *Server) EnrollTOTP(ctx context.Context, _ *authapi.EnrollTOTPRequest) (*authapi.EnrollTOTPResponse, error) {
	token, err := bearer(ctx)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	enrollment, err := s.Engine.EnrollTOTP(ctx, token)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &authapi.EnrollTOTPResponse{Secret: enrollment.Secret, URL: enrollment.URL}, nil
}

func (s *Server) RotateSigningKey(ctx context.Context, _ *authapi.RotateSigningKeyRequest) (*authapi.RotateSigningKeyResponse, error) {
	if s.Keys == nil {
		return nil, status.Error(codes.Unimplemented, "key rotation disabled")
	}
	token, err := bearer(ctx)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	if _, err := s.Engine.Authorize(ctx, token, service.ScopeAdminKeys); err != nil {
		return nil, toStatus(ctx, err)
	}

	res, err := s.Keys.RotateKey(ctx)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &authapi.RotateSigningKeyResponse{
		KeyID:       res.Key.KID,
		Algorithm:   res.Key.Algorithm,
		Version:     res.Version,
		RetiredKIDs: res.RetiredKIDs,
		VerifyUntil: res.VerifyUntil,
	}, nil
}

// sessionTarget authenticates the caller and resolves which principal's
// sessions they are acting on. An empty principal means the caller.
func (s *Server) sessionTarget(ctx context.Context, principal string) (string, error) {
	token, err := bearer(ctx)
	if err != nil {
		return "", toStatus(ctx, err)
	}
	claims, err := s.Engine.Validate(ctx, token)
	if err != nil {
		return "", toStatus(ctx, err)
	}

	principal = strings.TrimSpace(principal)
	if principal == "" {
		principal = claims.Subject
	}
	if !service.CanManageSessions(claims.Subject, claims.Scopes, principal) {
		return "", toStatus(ctx, service.ErrForbidden)
	}
	return principal, nil
}

// bearer returns the token from the authorization metadata. The "Bearer "
// prefix is optional.
func bearer(ctx context.Context) (string, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get(authapi.AuthorizationMetadataKey)
	if len(values) == 0 {
		return "", service.ErrMalformed
	}

	v := strings.TrimSpace(values[0])
	if scheme, rest, ok := strings.Cut(v, " "); ok && strings.EqualFold(scheme, "bearer") {
		v = strings.TrimSpace(rest)
	} else if strings.EqualFold(v, "bearer") {
		v = ""
	}
	if v == "" {
		return "", service.ErrMalformed
	}
	return v, nil
}

func clientFrom(ctx context.Context, c authapi.Client) session.Client {
	return session.Client{Name: c.Name, UserAgent: c.UserAgent, Address: peerHost(ctx)}
}

// peerHost is the caller's address without the port, or the raw address
// when it has none (unix sockets, in-memory listeners).
func peerHost(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func tokenResponse(tok jwtx.Token) *authapi.Token {
	return &authapi.Token{
		Token:     tok.Value,
		TokenID:   tok.ID,
		Subject:   tok.Subject,
		Scopes:    tok.Scopes,
		IssuedAt:  tok.IssuedAt,
		ExpiresAt: tok.ExpiresAt,
		KeyID:     tok.KeyID,
	}
}

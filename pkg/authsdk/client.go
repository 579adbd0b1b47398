package authsdk

import (
	"context"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/authapi"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// SDKClient is a client for the authcore service.
type SDKClient struct {
	conn   *grpc.ClientConn
	api    authapi.AuthServiceClient
	health healthpb.HealthClient

	// ClientName is recorded on every session this client opens.
	ClientName string

	// CheckScopes makes Sessions refuse calls they lack the scope for
	// without contacting the server. Default: true.
	CheckScopes bool

	// RefreshBuffer is how long before expiry a Session refreshes.
	// Default: 30s.
	RefreshBuffer time.Duration

	now func() time.Time
}

// Dial connects to target. The caller owns the client and must Close it.
func Dial(target string, opts ...grpc.DialOption) (*SDKClient, error) {
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	c := NewSDKClient(conn)
	c.conn = conn
	return c, nil
}

// NewSDKClient wraps an existing connection. Close does not close cc.
func NewSDKClient(cc grpc.ClientConnInterface) *SDKClient {
	return &SDKClient{
		api:           authapi.NewAuthServiceClient(cc),
		health:        healthpb.NewHealthClient(cc),
		CheckScopes:   true,
		RefreshBuffer: 30 * time.Second,
		now:           time.Now,
	}
}

// Close closes the connection opened by Dial.
func (c *SDKClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// AuthOption adjusts an Authenticate call.
type AuthOption func(*authapi.AuthenticateRequest)

// WithOTP supplies the TOTP code for principals with a second factor.
func WithOTP(code string) AuthOption {
	return func(r *authapi.AuthenticateRequest) { r.OTP = code }
}

// WithTTL asks for a token lifetime. The server caps it.
func WithTTL(ttl time.Duration) AuthOption {
	return func(r *authapi.AuthenticateRequest) { r.TTLSeconds = int64(ttl / time.Second) }
}

// Authenticate logs principal in and returns a Session.
func (c *SDKClient) Authenticate(ctx context.Context, principal, password string, opts ...AuthOption) (*Session, error) {
	req := &authapi.AuthenticateRequest{
		Principal: principal,
		Password:  password,
		Client:    authapi.Client{Name: c.ClientName},
	}
	for _, opt := range opts {
		opt(req)
	}

	tok, err := c.api.Authenticate(ctx, req)
	if err != nil {
		return nil, wrapError(err)
	}
	return c.NewSessionFromToken(tok), nil
}

// Register creates a principal. It does not log in.
func (c *SDKClient) Register(ctx context.Context, principal, password string) (*authapi.RegisterResponse, error) {
	resp, err := c.api.Register(ctx, &authapi.RegisterRequest{Principal: principal, Password: password})
	return resp, wrapError(err)
}

// Validate checks a token someone else presented.
func (c *SDKClient) Validate(ctx context.Context, token string) (*authapi.ValidateResponse, error) {
	resp, err := c.api.Validate(ctx, &authapi.ValidateRequest{Token: token})
	return resp, wrapError(err)
}

// Revoke invalidates a token without needing a Session.
func (c *SDKClient) Revoke(ctx context.Context, token string) error {
	_, err := c.api.Revoke(ctx, &authapi.RevokeRequest{Token: token})
	return wrapError(err)
}

// Health reports whether the auth service is serving.
func (c *SDKClient) Health(ctx context.Context) (bool, error) {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: authapi.ServiceName})
	if err != nil {
		return false, wrapError(err)
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// NewSessionFromToken resumes a session from a previously issued token.
func (c *SDKClient) NewSessionFromToken(tok *authapi.Token) *Session {
	s := &Session{client: c}
	s.set(tok)
	return s
}

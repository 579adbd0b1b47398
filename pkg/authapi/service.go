package authapi

import (
	"context"

	"github.com/aussiebroadwan/authcore/pkg/codec"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

func init() {
	encoding.RegisterCodec(codec.GRPC{})
}

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "authcore.v1.AuthService"

// Full method names, as seen by interceptors.
const (
	AuthenticateMethod      = "/" + ServiceName + "/Authenticate"
	ValidateMethod          = "/" + ServiceName + "/Validate"
	RefreshMethod           = "/" + ServiceName + "/Refresh"
	RevokeMethod            = "/" + ServiceName + "/Revoke"
	RevokeAllSessionsMethod = "/" + ServiceName + "/RevokeAllSessions"
	ListSessionsMethod      = "/" + ServiceName + "/ListSessions"
	RegisterMethod          = "/" + ServiceName + "/Register"
	EnrollTOTPMethod        = "/" + ServiceName + "/EnrollTOTP"
	RotateSigningKeyMethod  = "/" + ServiceName + "/RotateSigningKey"
)

// AuthServiceServer is implemented by the server.
type AuthServiceServer interface {
	Authenticate(context.Context, *AuthenticateRequest) (*Token, error)
	Validate(context.Context, *ValidateRequest) (*ValidateResponse, error)
	Refresh(context.Context, *RefreshRequest) (*Token, error)
	Revoke(context.Context, *RevokeRequest) (*RevokeResponse, error)
	RevokeAllSessions(context.Context, *RevokeAllSessionsRequest) (*RevokeAllSessionsResponse, error)
	ListSessions(context.Context, *ListSessionsRequest) (*ListSessionsResponse, error)
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	EnrollTOTP(context.Context, *EnrollTOTPRequest) (*EnrollTOTPResponse, error)
	RotateSigningKey(context.Context, *RotateSigningKeyRequest) (*RotateSigningKeyResponse, error)
}

// UnimplementedAuthServiceServer answers every method with Unimplemented.
// Embed it to stay forward compatible.
type UnimplementedAuthServiceServer struct{}

func (UnimplementedAuthServiceServer) Authenticate(context.Context, *AuthenticateRequest) (*Token, error) {
	return nil, status.Error(codes.Unimplemented, "method Authenticate not implemented")
}
func (UnimplementedAuthServiceServer) Validate(context.Context, *ValidateRequest) (*ValidateResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Validate not implemented")
}
func (UnimplementedAuthServiceServer) Refresh(context.Context, *RefreshRequest) (*Token, error) {
	return nil, status.Error(codes.Unimplemented, "method Refresh not implemented")
}
func (UnimplementedAuthServiceServer) Revoke(context.Context, *RevokeRequest) (*RevokeResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Revoke not implemented")
}
func (UnimplementedAuthServiceServer) RevokeAllSessions(context.Context, *RevokeAllSessionsRequest) (*RevokeAllSessionsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method RevokeAllSessions not implemented")
}
func (UnimplementedAuthServiceServer) ListSessions(context.Context, *ListSessionsRequest) (*ListSessionsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListSessions not implemented")
}
func (UnimplementedAuthServiceServer) Register(context.Context, *RegisterRequest) (*RegisterResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Register not implemented")
}
func (UnimplementedAuthServiceServer) EnrollTOTP(context.Context, *EnrollTOTPRequest) (*EnrollTOTPResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method EnrollTOTP not implemented")
}
func (UnimplementedAuthServiceServer) RotateSigningKey(context.Context, *RotateSigningKeyRequest) (*RotateSigningKeyResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method RotateSigningKey not implemented")
}

// RegisterAuthServiceServer attaches srv to s.
func RegisterAuthServiceServer(s grpc.ServiceRegistrar, srv AuthServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unary builds the MethodHandler for one method: decode, then run through the
// interceptor chain if there is one.
func unary[Req, Resp any](fullMethod string, call func(AuthServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AuthServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AuthServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes authcore.v1.AuthService for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Authenticate", Handler: unary(AuthenticateMethod, AuthServiceServer.Authenticate)},
		{MethodName: "Validate", Handler: unary(ValidateMethod, AuthServiceServer.Validate)},
		{MethodName: "Refresh", Handler: unary(RefreshMethod, AuthServiceServer.Refresh)},
		{MethodName: "Revoke", Handler: unary(RevokeMethod, AuthServiceServer.Revoke)},
		{MethodName: "RevokeAllSessions", Handler: unary(RevokeAllSessionsMethod, AuthServiceServer.RevokeAllSessions)},
		{MethodName: "ListSessions", Handler: unary(ListSessionsMethod, AuthServiceServer.ListSessions)},
		{MethodName: "Register", Handler: unary(RegisterMethod, AuthServiceServer.Register)},
		{MethodName: "EnrollTOTP", Handler: unary(EnrollTOTPMethod, AuthServiceServer.EnrollTOTP)},
		{MethodName: "RotateSigningKey", Handler: unary(RotateSigningKeyMethod, AuthServiceServer.RotateSigningKey)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "authcore/v1/auth.cbor",
}

// AuthServiceClient is the typed client side of the service.
type AuthServiceClient interface {
	Authenticate(ctx context.Context, in *AuthenticateRequest, opts ...grpc.CallOption) (*Token, error)
	Validate(ctx context.Context, in *ValidateRequest, opts ...grpc.CallOption) (*ValidateResponse, error)
	Refresh(ctx context.Context, in *RefreshRequest, opts ...grpc.CallOption) (*Token, error)
	Revoke(ctx context.Context, in *RevokeRequest, opts ...grpc.CallOption) (*RevokeResponse, error)
	RevokeAllSessions(ctx context.Context, in *RevokeAllSessionsRequest, opts ...grpc.CallOption) (*RevokeAllSessionsResponse, error)
	ListSessions(ctx context.Context, in *ListSessionsRequest, opts ...grpc.CallOption) (*ListSessionsResponse, error)
	Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error)
	EnrollTOTP(ctx context.Context, in *EnrollTOTPRequest, opts ...grpc.CallOption) (*EnrollTOTPResponse, error)
	RotateSigningKey(ctx context.Context, in *RotateSigningKeyRequest, opts ...grpc.CallOption) (*RotateSigningKeyResponse, error)
}

type authServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewAuthServiceClient returns a client that sends every call with the CBOR
// content-subtype.
func NewAuthServiceClient(cc grpc.ClientConnInterface) AuthServiceClient {
	return &authServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codec.Name)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *authServiceClient) Authenticate(ctx context.Context, in *AuthenticateRequest, opts ...grpc.CallOption) (*Token, error) {
	return invoke[Token](ctx, c.cc, AuthenticateMethod, in, opts)
}

func (c *authServiceClient) Validate(ctx context.Context, in *ValidateRequest, opts ...grpc.CallOption) (*ValidateResponse, error) {
	return invoke[ValidateResponse](ctx, c.cc, ValidateMethod, in, opts)
}

func (c *authServiceClient) Refresh(ctx context.Context, in *RefreshRequest, opts ...grpc.CallOption) (*Token, error) {
	return invoke[Token](ctx, c.cc, RefreshMethod, in, opts)
}

func (c *authServiceClient) Revoke(ctx context.Context, in *RevokeRequest, opts ...grpc.CallOption) (*RevokeResponse, error) {
	return invoke[RevokeResponse](ctx, c.cc, RevokeMethod, in, opts)
}

func (c *authServiceClient) RevokeAllSessions(ctx context.Context, in *RevokeAllSessionsRequest, opts ...grpc.CallOption) (*RevokeAllSessionsResponse, error) {
	return invoke[RevokeAllSessionsResponse](ctx, c.cc, RevokeAllSessionsMethod, in, opts)
}

func (c *authServiceClient) ListSessions(ctx context.Context, in *ListSessionsRequest, opts ...grpc.CallOption) (*ListSessionsResponse, error) {
	return invoke[ListSessionsResponse](ctx, c.cc, ListSessionsMethod, in, opts)
}

func (c *authServiceClient) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error) {
	return invoke[RegisterResponse](ctx, c.cc, RegisterMethod, in, opts)
}

func (c *authServiceClient) EnrollTOTP(ctx context.Context, in *EnrollTOTPRequest, opts ...grpc.CallOption) (*EnrollTOTPResponse, error) {
	return invoke[EnrollTOTPResponse](ctx, c.cc, EnrollTOTPMethod, in, opts)
}

func (c *authServiceClient) RotateSigningKey(ctx context.Context, in *RotateSigningKeyRequest, opts ...grpc.CallOption) (*RotateSigningKeyResponse, error) {
	return invoke[RotateSigningKeyResponse](ctx, c.cc, RotateSigningKeyMethod, in, opts)
}

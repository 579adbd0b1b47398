/*
Package authsdk is the Go client for the authcore credential service.

# SDKClient vs Session

  - SDKClient: unauthenticated calls (Authenticate, Register, Validate,
    Health) and the entry point that creates Sessions.
  - Session: calls made on behalf of a logged-in principal. A Session
    refreshes its token shortly before it expires.

	client, err := authsdk.Dial("auth.internal:9090",
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer client.Close()

	session, err := client.Authenticate(ctx, "alice", password, authsdk.WithOTP(code))
	if err != nil {
		return err
	}

	sessions, err := session.ListSessions(ctx, "")

	// Ends every session of the principal, including this one.
	n, err := session.RevokeAllSessions(ctx, "")

# Refresh

A refresh swaps the current token for a new one and the old token stops
working immediately. Sessions serialise refreshes, so sharing one Session
between goroutines is safe; two Sessions built from the same token are not,
the second refresh fails with token_revoked.

# Errors

Failed calls return *Error carrying the gRPC code and the service's reason
code ("invalid_credentials", "token_revoked", ...). Use errors.As, or the
IsUnauthenticated and HasReason helpers:

	if authsdk.HasReason(err, authsdk.ReasonRevoked) {
		// log in again
	}

Client-side scope checks (CheckScopes, on by default) fail with
ErrMissingScope before any call is made.
*/
package authsdk

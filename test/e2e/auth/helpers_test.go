//go:build e2e

package auth_test

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/app"
	"github.com/aussiebroadwan/authcore/pkg/authsdk"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

/*
 * End-to-end tests run the whole service in-process against a real Redis
 * started with testcontainers. Run with: go test -tags e2e ./test/e2e/...
 */

const redisImage = "redis:7-alpine"

// redisAddr is shared by every test; principals are unique per test.
var redisAddr string

// TestMain starts Redis once for the package and removes it afterwards.
func TestMain(m *testing.M) {
	ctx := context.Background()

	fmt.Fprintf(os.Stdout, "Starting Redis container...")
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        redisImage,
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "\nFailed to start Redis: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err == nil {
		var port string
		if mapped, perr := container.MappedPort(ctx, "6379"); perr == nil {
			port = mapped.Port()
		} else {
			err = perr
		}
		redisAddr = net.JoinHostPort(host, port)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "\nFailed to resolve Redis address: %v\n", err)
		_ = container.Terminate(ctx)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, " done (%s)\n", redisAddr)

	exitCode := m.Run()

	fmt.Fprintf(os.Stdout, "Stopping Redis container...")
	_ = container.Terminate(ctx)
	fmt.Fprintf(os.Stdout, " done\n")

	os.Exit(exitCode)
}

// service is a running auth service and a client connected to it.
type service struct {
	client  *authsdk.SDKClient
	httpURL string
}

// startService boots the service with the production wiring. env overrides
// the test defaults. The service stops when the test ends.
func startService(t *testing.T, env map[string]string) service {
	t.Helper()

	grpcPort, httpPort := freePort(t), freePort(t)
	vars := map[string]string{
		"AUTH_ISSUER":        "authcore-e2e",
		"AUTH_DATABASE_FILE": filepath.Join(t.TempDir(), "auth.db"),
		"AUTH_HASH_COST":     "4",
		"REDIS_ADDR":         redisAddr,
		"GRPC_PORT":          strconv.Itoa(grpcPort),
		"PORT":               strconv.Itoa(httpPort),
		"ENV":                "test",
		"LOG_LEVEL":          "warn",
		// Tests make many rapid requests which would trip the production limits.
		"RATELIMIT_STRICT_REQUESTS":   "1000",
		"RATELIMIT_STRICT_BURST":      "1000",
		"RATELIMIT_PEER_REQUESTS":     "1000",
		"RATELIMIT_PEER_BURST":        "1000",
		"RATELIMIT_MODERATE_REQUESTS": "1000",
		"RATELIMIT_MODERATE_BURST":    "1000",
	}
	for k, v := range env {
		vars[k] = v
	}
	for k, v := range vars {
		t.Setenv(k, v)
	}

	cfg, err := app.LoadConfig()
	require.NoError(t, err)

	application, err := app.New(t.Context(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Logf("service shutdown: %v", err)
			}
		case <-time.After(15 * time.Second):
			t.Errorf("service did not stop")
		}
	})

	httpURL := fmt.Sprintf("http://127.0.0.1:%d", httpPort)
	require.Eventually(t, func() bool {
		resp, err := http.Get(httpURL + "/livez")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 50*time.Millisecond, "service never became live")

	client, err := authsdk.Dial(
		fmt.Sprintf("127.0.0.1:%d", grpcPort),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return service{client: client, httpURL: httpURL}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// principalName is unique per test so runs can share Redis.
func principalName(t *testing.T, base string) string {
	return fmt.Sprintf("%s-%d", base, time.Now().UnixNano())
}

// assertReason checks that err is an authsdk error carrying reason.
func assertReason(t *testing.T, err error, reason string) {
	t.Helper()
	require.Error(t, err)
	require.True(t, authsdk.HasReason(err, reason), "want reason %q, got: %v", reason, err)
}

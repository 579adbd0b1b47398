package app

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/ratelimit"
	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/require"
)

func parseEnv(vars map[string]string) (Config, error) {
	return parseConfig(env.Options{Environment: vars})
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := parseEnv(map[string]string{})
	require.NoError(t, err)

	require.Equal(t, "authcore", cfg.Issuer)
	require.Equal(t, 15*time.Minute, cfg.TokenTTL)
	require.Equal(t, 24*time.Hour, cfg.MaxTokenTTL)
	require.Equal(t, "EdDSA", cfg.Algorithm)
	require.Equal(t, KeyStorageEphemeral, cfg.KeyStorageMode)
	require.Equal(t, []string{"user"}, cfg.DefaultScopes)
	require.Equal(t, "closed", cfg.CacheFailPolicy)
	require.Equal(t, PrincipalSourceSQLite, cfg.PrincipalSource)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr)
	require.Equal(t, 250*time.Millisecond, cfg.Redis.Timeout)
	require.Equal(t, "auth.events", cfg.Kafka.EventsTopic)
	require.Equal(t, 9090, cfg.GRPCPort)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, ratelimit.DefaultStrict, cfg.RateLimit.Strict)
	require.Equal(t, ratelimit.DefaultPeer, cfg.RateLimit.Peer)
	require.Equal(t, ratelimit.DefaultPublic, cfg.RateLimit.Public)
}

func TestConfigOverrides(t *testing.T) {
	t.Parallel()

	cfg, err := parseEnv(map[string]string{
		"AUTH_TOKEN_TTL":            "5m",
		"AUTH_DEFAULT_SCOPES":       "user,reader",
		"AUTH_KEY_STORAGE_MODE":     "file",
		"AUTH_SIGNING_KEYS":         "k2=/keys/k2.pem,k1=/keys/k1.pem",
		"AUTH_CACHE_FAIL_POLICY":    "open",
		"PRINCIPAL_SOURCE":          "kafka",
		"KAFKA_BROKERS":             "kafka-1:9092,kafka-2:9092",
		"EVENTS_ENCODING":           "cbor",
		"REDIS_DB":                  "3",
		"RATELIMIT_STRICT_REQUESTS": "100",
	})
	require.NoError(t, err)

	require.Equal(t, 5*time.Minute, cfg.TokenTTL)
	require.Equal(t, []string{"user", "reader"}, cfg.DefaultScopes)
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	require.Equal(t, 3, cfg.Redis.DB)
	require.Equal(t, 100, cfg.RateLimit.Strict.RequestsPerWindow)
	require.Equal(t, ratelimit.DefaultStrict.Window, cfg.RateLimit.Strict.Window, "unset fields keep the profile default")

	files, err := parseSigningKeys(cfg.SigningKeys)
	require.NoError(t, err)
	require.Equal(t, []signingKeyFile{{KID: "k2", Path: "/keys/k2.pem"}, {KID: "k1", Path: "/keys/k1.pem"}}, files)
}

func TestConfigRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		vars map[string]string
		want string
	}{
		{"unparsable duration", map[string]string{"AUTH_TOKEN_TTL": "soon"}, "parse env"},
		{"max below default ttl", map[string]string{"AUTH_TOKEN_TTL": "2h", "AUTH_MAX_TOKEN_TTL": "1h"}, "AUTH_MAX_TOKEN_TTL"},
		{"grace shorter than max ttl", map[string]string{"AUTH_KEY_GRACE_PERIOD": "1h"}, "AUTH_KEY_GRACE_PERIOD"},
		{"unknown algorithm", map[string]string{"AUTH_ALGORITHM": "none"}, "AUTH_ALGORITHM"},
		{"unknown storage mode", map[string]string{"AUTH_KEY_STORAGE_MODE": "vault"}, "AUTH_KEY_STORAGE_MODE"},
		{"file mode without keys", map[string]string{"AUTH_KEY_STORAGE_MODE": "file"}, "AUTH_SIGNING_KEYS is required"},
		{"bad key entry", map[string]string{"AUTH_KEY_STORAGE_MODE": "file", "AUTH_SIGNING_KEYS": "just-a-path"}, "not kid=path"},
		{"duplicate kid", map[string]string{"AUTH_KEY_STORAGE_MODE": "file", "AUTH_SIGNING_KEYS": "a=/x,a=/y"}, "twice"},
		{"bcrypt cost", map[string]string{"AUTH_HASH_COST": "99"}, "bcrypt cost"},
		{"hash algorithm", map[string]string{"AUTH_HASH_ALGORITHM": "md5"}, "unsupported hash algorithm"},
		{"fail policy", map[string]string{"AUTH_CACHE_FAIL_POLICY": "maybe"}, "AUTH_CACHE_FAIL_POLICY"},
		{"kafka without brokers", map[string]string{"PRINCIPAL_SOURCE": "kafka"}, "KAFKA_BROKERS"},
		{"unknown encoding", map[string]string{"EVENTS_ENCODING": "xml"}, "unknown encoding"},
		{"port clash", map[string]string{"GRPC_PORT": "8080"}, "must differ"},
		{"negative sessions", map[string]string{"AUTH_MAX_SESSIONS": "-1"}, "AUTH_MAX_SESSIONS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := parseEnv(tt.vars)
			require.ErrorContains(t, err, tt.want)
		})
	}
}

package app

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/events"
	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
	"github.com/aussiebroadwan/authcore/pkg/ratelimit"
	"github.com/caarlos0/env/v11"
)

// Key storage modes.
const (
	KeyStorageEphemeral  = "ephemeral"  // generated at startup, lost on restart
	KeyStorageFile       = "file"       // PEM or HMAC secrets read from AUTH_SIGNING_KEYS
	KeyStoragePersistent = "persistent" // encrypted in sqlite under the master key
)

// Principal sources.
const (
	PrincipalSourceSQLite = "sqlite"
	PrincipalSourceKafka  = "kafka"
)

// Config is read once at startup and never mutated.
type Config struct {
	Issuer      string        `env:"AUTH_ISSUER"        envDefault:"authcore"`
	TokenTTL    time.Duration `env:"AUTH_TOKEN_TTL"     envDefault:"15m"`
	MaxTokenTTL time.Duration `env:"AUTH_MAX_TOKEN_TTL" envDefault:"24h"`

	Algorithm      string `env:"AUTH_ALGORITHM"        envDefault:"EdDSA"`
	RSABits        int    `env:"AUTH_RSA_BITS"`
	KeyStorageMode string `env:"AUTH_KEY_STORAGE_MODE" envDefault:"ephemeral"`

	// SigningKeys lists kid=path pairs for file mode. The first entry signs;
	// the others only verify.
	SigningKeys []string `env:"AUTH_SIGNING_KEYS" envSeparator:","`

	MasterKeyPath       string        `env:"AUTH_MASTER_KEY_PATH"`
	KeyGracePeriod      time.Duration `env:"AUTH_KEY_GRACE_PERIOD"      envDefault:"24h"`
	KeyRotationInterval time.Duration `env:"AUTH_KEY_ROTATION_INTERVAL"` // 0 disables

	HashAlgorithm string `env:"AUTH_HASH_ALGORITHM" envDefault:"bcrypt"`
	HashCost      int    `env:"AUTH_HASH_COST"      envDefault:"12"`

	DefaultScopes   []string `env:"AUTH_DEFAULT_SCOPES"    envDefault:"user" envSeparator:","`
	MaxSessions     int      `env:"AUTH_MAX_SESSIONS"      envDefault:"10"`
	CacheFailPolicy string   `env:"AUTH_CACHE_FAIL_POLICY" envDefault:"closed"`

	DatabaseFile    string `env:"AUTH_DATABASE_FILE" envDefault:"auth.db"`
	PrincipalSource string `env:"PRINCIPAL_SOURCE"   envDefault:"sqlite"`

	Redis  RedisConfig
	Kafka  KafkaConfig
	Events EventsConfig

	GRPCPort             int           `env:"GRPC_PORT"             envDefault:"9090"`
	Port                 int           `env:"PORT"                  envDefault:"8080"`
	Env                  string        `env:"ENV"                   envDefault:"dev"`
	LogLevel             string        `env:"LOG_LEVEL"             envDefault:"info"`
	LogFormat            string        `env:"LOG_FORMAT"            envDefault:"json"`
	ShutdownGracePeriod  time.Duration `env:"SHUTDOWN_GRACE_PERIOD" envDefault:"10s"`
	HousekeepingInterval time.Duration `env:"HOUSEKEEPING_INTERVAL" envDefault:"1h"`

	RateLimit RateLimitConfig
}

type RedisConfig struct {
	Addr     string        `env:"REDIS_ADDR"    envDefault:"localhost:6379"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB"`
	Timeout  time.Duration `env:"REDIS_TIMEOUT" envDefault:"250ms"`
}

type KafkaConfig struct {
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`

	EventsTopic string `env:"KAFKA_EVENTS_TOPIC" envDefault:"auth.events"`

	DirectoryRequestTopic string        `env:"KAFKA_DIRECTORY_REQUEST_TOPIC" envDefault:"persistence.users"`
	DirectoryReplyTopic   string        `env:"KAFKA_DIRECTORY_REPLY_TOPIC"   envDefault:"persistence.users.events"`
	DirectoryTimeout      time.Duration `env:"KAFKA_DIRECTORY_TIMEOUT"       envDefault:"5s"`
}

type EventsConfig struct {
	Encoding  string `env:"EVENTS_ENCODING"   envDefault:"json"`
	QueueSize int    `env:"EVENTS_QUEUE_SIZE" envDefault:"1024"`
}

// RateLimitConfig holds the limiter profiles. Unset variables keep the
// ratelimit package defaults.
type RateLimitConfig struct {
	Strict   ratelimit.Config `envPrefix:"RATELIMIT_STRICT_"`
	Peer     ratelimit.Config `envPrefix:"RATELIMIT_PEER_"`
	Moderate ratelimit.Config `envPrefix:"RATELIMIT_MODERATE_"`
	Public   ratelimit.Config `envPrefix:"RATELIMIT_PUBLIC_"`
}

// LoadConfig parses the process environment and validates the result.
func LoadConfig() (Config, error) {
	return parseConfig(env.Options{})
}

func parseConfig(opts env.Options) (Config, error) {
	cfg := Config{
		RateLimit: RateLimitConfig{
			Strict:   ratelimit.DefaultStrict,
			Peer:     ratelimit.DefaultPeer,
			Moderate: ratelimit.DefaultModerate,
			Public:   ratelimit.DefaultPublic,
		},
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("config: "+format, args...))
	}

	if strings.TrimSpace(c.Issuer) == "" {
		add("AUTH_ISSUER must not be empty")
	}
	if c.TokenTTL <= 0 {
		add("AUTH_TOKEN_TTL must be positive")
	}
	if c.MaxTokenTTL < c.TokenTTL {
		add("AUTH_MAX_TOKEN_TTL (%s) is below AUTH_TOKEN_TTL (%s)", c.MaxTokenTTL, c.TokenTTL)
	}
	if c.KeyGracePeriod < c.MaxTokenTTL {
		add("AUTH_KEY_GRACE_PERIOD (%s) must cover AUTH_MAX_TOKEN_TTL (%s)", c.KeyGracePeriod, c.MaxTokenTTL)
	}
	if c.KeyRotationInterval < 0 {
		add("AUTH_KEY_ROTATION_INTERVAL must not be negative")
	}

	if !slices.Contains([]string{jwtx.AlgorithmRS256, jwtx.AlgorithmES256, jwtx.AlgorithmEdDSA, jwtx.AlgorithmHS256}, c.Algorithm) {
		add("unsupported AUTH_ALGORITHM %q", c.Algorithm)
	}
	switch c.KeyStorageMode {
	case KeyStorageEphemeral, KeyStoragePersistent:
	case KeyStorageFile:
		if len(c.SigningKeys) == 0 {
			add("AUTH_SIGNING_KEYS is required in file mode")
		}
		if _, err := parseSigningKeys(c.SigningKeys); err != nil {
			errs = append(errs, err)
		}
	default:
		add("unknown AUTH_KEY_STORAGE_MODE %q", c.KeyStorageMode)
	}

	if _, err := cryptox.NewHasher(c.HasherOptions()); err != nil {
		add("%v", err)
	}
	switch service.FailPolicy(c.CacheFailPolicy) {
	case service.FailClosed, service.FailOpen:
	default:
		add("AUTH_CACHE_FAIL_POLICY must be %q or %q", service.FailClosed, service.FailOpen)
	}
	if c.MaxSessions < 0 {
		add("AUTH_MAX_SESSIONS must not be negative")
	}

	switch c.PrincipalSource {
	case PrincipalSourceSQLite:
	case PrincipalSourceKafka:
		if len(c.Kafka.Brokers) == 0 {
			add("KAFKA_BROKERS is required when PRINCIPAL_SOURCE=kafka")
		}
	default:
		add("unknown PRINCIPAL_SOURCE %q", c.PrincipalSource)
	}
	if _, err := events.ParseEncoding(c.Events.Encoding); err != nil {
		add("%v", err)
	}

	for name, port := range map[string]int{"GRPC_PORT": c.GRPCPort, "PORT": c.Port} {
		if port <= 0 || port > 65535 {
			add("%s %d out of range", name, port)
		}
	}
	if c.GRPCPort == c.Port {
		add("GRPC_PORT and PORT must differ")
	}

	return errors.Join(errs...)
}

// HasherOptions maps the hash settings onto cryptox.
func (c Config) HasherOptions() cryptox.HasherOptions {
	opts := cryptox.HasherOptions{Algorithm: c.HashAlgorithm}
	if strings.EqualFold(c.HashAlgorithm, cryptox.AlgorithmBcrypt) {
		opts.Cost = c.HashCost
	}
	return opts
}

// signingKeyFile is one kid=path entry of AUTH_SIGNING_KEYS.
type signingKeyFile struct {
	KID  string
	Path string
}

func parseSigningKeys(entries []string) ([]signingKeyFile, error) {
	out := make([]signingKeyFile, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		kid, path, ok := strings.Cut(strings.TrimSpace(e), "=")
		kid, path = strings.TrimSpace(kid), strings.TrimSpace(path)
		if !ok || kid == "" || path == "" {
			return nil, fmt.Errorf("config: AUTH_SIGNING_KEYS entry %q is not kid=path", e)
		}
		if seen[kid] {
			return nil, fmt.Errorf("config: AUTH_SIGNING_KEYS lists %q twice", kid)
		}
		seen[kid] = true
		out = append(out, signingKeyFile{KID: kid, Path: path})
	}
	return out, nil
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "AUTHCORE"

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	GRPC      GRPCSettings      `mapstructure:"grpc"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Cache     CacheSettings     `mapstructure:"cache"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	JWT       JWTSettings       `mapstructure:"jwt"`
	MFA       MFASettings       `mapstructure:"mfa"`
	WebAuthn  WebAuthnSettings  `mapstructure:"webauthn"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	CORSOrigins []string `mapstructure:"cors_origins"`
}

type GRPCSettings struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// PostgresSettings configures the user directory connection. An empty host selects the in-memory directory.
type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	DB         int    `mapstructure:"db"`
	Password   string `mapstructure:"password"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
	PoolSize   int    `mapstructure:"pool_size"`
	KeyPrefix  string `mapstructure:"key_prefix"`
}

// CacheSettings configures the circuit breaker and fallback store in front of Redis.
type CacheSettings struct {
	OpTimeout        time.Duration `mapstructure:"op_timeout"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout"`
	FallbackSize     int           `mapstructure:"fallback_size"`
}

// KafkaSettings configures the audit producer
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	AuditBuffer int      `mapstructure:"audit_buffer"`
}

type JWTSettings struct {
	KeyDirectory    string        `mapstructure:"key_directory"`
	KeyID           string        `mapstructure:"kid"`
	Issuer          string        `mapstructure:"issuer"`
	Audience        []string      `mapstructure:"audience"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// MFASettings configures TOTP and backup codes.
type MFASettings struct {
	Issuer          string         `mapstructure:"issuer"`
	BackupCodeCount int            `mapstructure:"backup_code_count"`
	Skew            uint           `mapstructure:"skew"`
	Argon2          Argon2Settings `mapstructure:"argon2"`
}

// Argon2Settings configures Argon2id backup code hashing parameters
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

type WebAuthnSettings struct {
	RPID          string        `mapstructure:"rp_id"`
	RPDisplayName string        `mapstructure:"rp_display_name"`
	RPOrigins     []string      `mapstructure:"rp_origins"`
	CeremonyTTL   time.Duration `mapstructure:"ceremony_ttl"`
	// RequireCounterIncrease rejects authenticators whose signature counter stays at zero.
	RequireCounterIncrease bool `mapstructure:"require_counter_increase"`
}

// RateLimitSettings configures the sliding window per endpoint class.
type RateLimitSettings struct {
	WindowDuration     time.Duration `mapstructure:"window_duration"`
	LoginLimit         int           `mapstructure:"login_limit"`
	RefreshLimit       int           `mapstructure:"refresh_limit"`
	MFAVerifyLimit     int           `mapstructure:"mfa_verify_limit"`
	PasswordResetLimit int           `mapstructure:"password_reset_limit"`
	WebAuthnLimit      int           `mapstructure:"webauthn_limit"`
	DegradationPolicy  string        `mapstructure:"degradation_policy"`
	StrictClasses      []string      `mapstructure:"strict_classes"`
}

type TelemetrySettings struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.cors_origins",
		"grpc.host",
		"grpc.port",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.pool_size",
		"redis.key_prefix",
		"cache.op_timeout",
		"cache.failure_threshold",
		"cache.recovery_timeout",
		"cache.fallback_size",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.audit_buffer",
		"jwt.key_directory",
		"jwt.kid",
		"jwt.issuer",
		"jwt.audience",
		"jwt.access_token_ttl",
		"jwt.refresh_token_ttl",
		"mfa.issuer",
		"mfa.backup_code_count",
		"mfa.skew",
		"mfa.argon2.memory",
		"mfa.argon2.iterations",
		"mfa.argon2.parallelism",
		"mfa.argon2.salt_length",
		"mfa.argon2.key_length",
		"webauthn.rp_id",
		"webauthn.rp_display_name",
		"webauthn.rp_origins",
		"webauthn.ceremony_ttl",
		"webauthn.require_counter_increase",
		"rate_limit.window_duration",
		"rate_limit.login_limit",
		"rate_limit.refresh_limit",
		"rate_limit.mfa_verify_limit",
		"rate_limit.password_reset_limit",
		"rate_limit.webauthn_limit",
		"rate_limit.degradation_policy",
		"rate_limit.strict_classes",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "authcore")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.cors_origins", []string{"http://localhost:8080"})

	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50051)

	v.SetDefault("postgres.host", "")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "authcore")
	v.SetDefault("postgres.password", "authcore_password")
	v.SetDefault("postgres.database", "authcore")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.key_prefix", "authcore")

	v.SetDefault("cache.op_timeout", "250ms")
	v.SetDefault("cache.failure_threshold", 5)
	v.SetDefault("cache.recovery_timeout", "60s")
	v.SetDefault("cache.fallback_size", 10000)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "authcore")
	v.SetDefault("kafka.audit_buffer", 1024)

	v.SetDefault("jwt.key_directory", "./secrets")
	v.SetDefault("jwt.kid", "v1")
	v.SetDefault("jwt.issuer", "authcore")
	v.SetDefault("jwt.audience", []string{"authcore-clients"})
	v.SetDefault("jwt.access_token_ttl", "15m")
	v.SetDefault("jwt.refresh_token_ttl", "720h")

	v.SetDefault("mfa.issuer", "authcore")
	v.SetDefault("mfa.backup_code_count", 10)
	v.SetDefault("mfa.skew", 1)
	v.SetDefault("mfa.argon2.memory", 19456) // 19 MB
	v.SetDefault("mfa.argon2.iterations", 2)
	v.SetDefault("mfa.argon2.parallelism", 1)
	v.SetDefault("mfa.argon2.salt_length", 16)
	v.SetDefault("mfa.argon2.key_length", 32)

	v.SetDefault("webauthn.rp_id", "localhost")
	v.SetDefault("webauthn.rp_display_name", "Authcore")
	v.SetDefault("webauthn.rp_origins", []string{"http://localhost:8080"})
	v.SetDefault("webauthn.ceremony_ttl", "5m")
	v.SetDefault("webauthn.require_counter_increase", false)

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.login_limit", 10)
	v.SetDefault("rate_limit.refresh_limit", 30)
	v.SetDefault("rate_limit.mfa_verify_limit", 5)
	v.SetDefault("rate_limit.password_reset_limit", 3)
	v.SetDefault("rate_limit.webauthn_limit", 20)
	v.SetDefault("rate_limit.degradation_policy", "lenient")
	v.SetDefault("rate_limit.strict_classes", []string{"password_reset", "mfa_verify"})

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "authcore")
	v.SetDefault("telemetry.sampling_rate", 1.0)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envPrefix+"_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

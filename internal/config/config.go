package config

import "time"

type Config struct {
	Service     *ServiceConfig
	Redis       *RedisConfig
	Postgres    *PostgresConfig
	Logger      *LoggerConfig
	Tracer      *TracerConfig
	Chat        *ChatConfig
	SecretToken string
}

type ServiceConfig struct {
	Name string
	Env  string
	Add  string
}

type RedisConfig struct {
	URL          string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
	PingTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

type LoggerConfig struct {
	Level  string
	Format string
}

// TracerConfig points at an OTLP/gRPC collector. An empty Address disables export.
type TracerConfig struct {
	Address  string
	Insecure bool
}

type ChatConfig struct {
	// SweepInterval is how often dead handles are evicted from the registry.
	SweepInterval time.Duration
	// PresenceTTL bounds how long a redis presence entry survives without a refresh.
	PresenceTTL    time.Duration
	SendBuffer     int
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	// MultiConversation lets one connection stay joined to several conversations.
	MultiConversation bool
	ShutdownTimeout   time.Duration
}

package config

import "time"

// Gateway definition chat_gateway YAML structure
type Gateway struct {
	Port   string      `mapstructure:"port"`
	Issuer string      `mapstructure:"issuer"`
	Redis  RedisConfig `mapstructure:"redis"`
	Kafka  KafkaConfig `mapstructure:"kafka"`
}

// Client definition chat_client YAML structure
type Client struct {
	GatewayURL string `mapstructure:"gateway_url"`
	APIBaseURL string `mapstructure:"api_base_url"`

	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	ReconnectDelayMax time.Duration `mapstructure:"reconnect_delay_max"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	AckFallback       time.Duration `mapstructure:"ack_fallback"`
}

// RedisConfig definition redis setting. Pub/sub fan-out is disabled
// when Addr is empty.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	RedisDB  int    `mapstructure:"redis_db"`
}

// KafkaConfig definition kafka setting. Archiving is disabled when
// Brokers is empty.
type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	Topic         string   `mapstructure:"topic"`
	RetryInterval int      `mapstructure:"retry_interval"`
	RetryCount    int      `mapstructure:"retry_count"`
}

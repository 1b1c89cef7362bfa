package internal

import (
	"fmt"
	"time"
)

type Config struct {
	Host      string `env:"HOST,required=true"`
	Port      int    `env:"PORT,required=true"`
	DebugPort int    `env:"DEBUG_PORT,required=true"`

	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	BlugeFilepath  string `env:"BLUGE_FILEPATH,required=true"`

	RedisAddr     string `env:"REDIS_ADDR,required=true"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"`

	JWTSecret string `env:"JWT_SECRET,required=true"`
	JWTIssuer string `env:"JWT_ISSUER,required=true"`

	QueuePartitions     int           `env:"QUEUE_PARTITIONS,required=true"`
	ConsumerGroup       string        `env:"CONSUMER_GROUP,required=true"`
	MaxDeliveryAttempts int64         `env:"MAX_DELIVERY_ATTEMPTS,required=true"`
	RetryMinIdle        time.Duration `env:"RETRY_MIN_IDLE,required=true"`

	ReplayBatchSize  int           `env:"REPLAY_BATCH_SIZE,required=true"`
	ReplayBatchPause time.Duration `env:"REPLAY_BATCH_PAUSE,required=true"`
	PresenceTTL      time.Duration `env:"PRESENCE_TTL,required=true"`

	WordlistPath    string `env:"WORDLIST_PATH"`
	CharReplacement string `env:"CHARACTER_REPLACEMENT,required=true"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS"`

	LogLevel        string        `env:"LOG_LEVEL,required=true"`
	MetricInterval  time.Duration `env:"METRIC_INTERVAL,required=true"`
	RestartInterval time.Duration `env:"RESTART_INTERVAL,required=true"`
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}

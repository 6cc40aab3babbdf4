package config

import (
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Store backend selectors.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	Port        string
	MetricsPort string
	LogLevel    string
	InstanceID  string

	StoreBackend string
	RedisURL     string

	// Evaluator thresholds
	NegativeSentimentThreshold float64
	MaxBotAttempts             int
	BotMessageLimit            int
	ConversationTimeLimitMS    int64
	ComplexityWindow           int

	// Classifier
	DefaultLanguage string
	LexiconFile     string

	// Dispatcher
	QueueReconcileIntervalMS int64

	// Multi-instance coordination (redis backend only)
	LeaderElectionTTL int

	// Event stream relay (redis backend only)
	EventsStreamEnabled bool
	EventsConsumerGroup string
}

func Load() *Config {
	config := &Config{
		Port:        getEnv("PORT", "8080"),
		MetricsPort: getEnv("METRICS_PORT", "9090"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		InstanceID:  getEnv("INSTANCE_ID", generateInstanceID()),

		StoreBackend: getEnv("STORE_BACKEND", BackendMemory),
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379"),

		NegativeSentimentThreshold: getEnvFloat("NEGATIVE_SENTIMENT_THRESHOLD", -0.3),
		MaxBotAttempts:             getEnvInt("MAX_BOT_ATTEMPTS", 3),
		BotMessageLimit:            getEnvInt("BOT_MESSAGE_LIMIT", 10),
		ConversationTimeLimitMS:    getEnvInt64("CONVERSATION_TIME_LIMIT_MS", 30*60*1000),
		ComplexityWindow:           getEnvInt("COMPLEXITY_WINDOW", 3),

		DefaultLanguage: getEnv("DEFAULT_LANGUAGE", "ar"),
		LexiconFile:     getEnv("LEXICON_FILE", ""),

		QueueReconcileIntervalMS: getEnvInt64("QUEUE_RECONCILE_INTERVAL_MS", 5000),

		LeaderElectionTTL: getEnvInt("LEADER_ELECTION_TTL", 10),

		EventsStreamEnabled: getEnvBool("EVENTS_STREAM_ENABLED", false),
		EventsConsumerGroup: getEnv("EVENTS_CONSUMER_GROUP", "handoff-consumers"),
	}

	return config
}

func (c *Config) ConversationTimeLimit() time.Duration {
	return time.Duration(c.ConversationTimeLimitMS) * time.Millisecond
}

func (c *Config) QueueReconcileInterval() time.Duration {
	return time.Duration(c.QueueReconcileIntervalMS) * time.Millisecond
}

func (c *Config) LeaderElectionTTLDuration() time.Duration {
	return time.Duration(c.LeaderElectionTTL) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func generateInstanceID() string {
	hostname, err := os.Hostname()
	if err != nil {
		return uuid.New().String()
	}
	return hostname + "-" + uuid.New().String()[:8]
}

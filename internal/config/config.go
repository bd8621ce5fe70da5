package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds everything the service reads from the environment.
type Config struct {
	Port      string
	MongoURI  string
	MongoDB   string
	JWTSecret string

	// GatewayURL is the base URL of the messaging gateway the webhook
	// messenger posts to.
	GatewayURL string

	// ManagementChannelID receives summaries, reports and performance alerts.
	ManagementChannelID string

	// DispatchQueueSize bounds the fire-and-forget notification queue.
	DispatchQueueSize int

	// Cron specs for the scheduled engine operations.
	DailySummaryCron   string
	WeeklyReportCron   string
	UnmetReminderCron  string
	LowPerformanceCron string
}

// LoadConfig reads .env (if present) and assembles the Config with defaults.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		logrus.Warn("No .env file found, relying on environment variables")
	}

	return &Config{
		Port:                getEnv("PORT", "8080"),
		MongoURI:            getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:             getEnv("MONGO_DB", "goal_engine"),
		JWTSecret:           getEnv("JWT_SECRET", ""),
		GatewayURL:          getEnv("GATEWAY_URL", ""),
		ManagementChannelID: getEnv("MANAGEMENT_CHANNEL_ID", ""),
		DispatchQueueSize:   getEnvInt("DISPATCH_QUEUE_SIZE", 256),
		DailySummaryCron:    getEnv("DAILY_SUMMARY_CRON", "0 21 * * *"),
		WeeklyReportCron:    getEnv("WEEKLY_REPORT_CRON", "0 21 * * 0"),
		UnmetReminderCron:   getEnv("UNMET_REMINDER_CRON", "0 18 * * *"),
		LowPerformanceCron:  getEnv("LOW_PERFORMANCE_CRON", "30 18 * * *"),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		logrus.WithField("key", key).Warn("Invalid integer in environment, using default")
		return fallback
	}
	return n
}

package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	WhatsAppToken         string
	WhatsAppPhoneNumberID string
	WhatsAppVerifyToken   string
	TelegramBotToken      string
	TelegramWebhookSecret string
	ProviderTimeout       time.Duration

	AppointmentDurationMin int
	AppointmentGapMin      int
	SlotLookaheadDays      int
	SessionIdleTimeout     time.Duration
	IntentMissLimit        int
	ClinicTimezone         string

	AdminJWTSecret string

	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string

	GoogleCalendarID        string
	GoogleCalendarTokenJSON string

	ReminderLeadTime     time.Duration
	ReminderPollInterval time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		WhatsAppToken:         getEnv("WHATSAPP_TOKEN", ""),
		WhatsAppPhoneNumberID: getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
		WhatsAppVerifyToken:   getEnv("WHATSAPP_VERIFY_TOKEN", ""),
		TelegramBotToken:      getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramWebhookSecret: getEnv("TELEGRAM_WEBHOOK_SECRET", ""),
		ProviderTimeout:       getEnvAsDuration("PROVIDER_TIMEOUT", 20*time.Second),

		AppointmentDurationMin: getEnvAsInt("APPOINTMENT_DURATION_MIN", 45),
		AppointmentGapMin:      getEnvAsInt("APPOINTMENT_GAP_MIN", 15),
		SlotLookaheadDays:      getEnvAsInt("SLOT_LOOKAHEAD_DAYS", 14),
		SessionIdleTimeout:     getEnvAsDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		IntentMissLimit:        getEnvAsInt("INTENT_MISS_LIMIT", 3),
		ClinicTimezone:         getEnv("CLINIC_TIMEZONE", "America/Guayaquil"),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Consultorio Dr. Guzmán"),

		GoogleCalendarID:        getEnv("GOOGLE_CALENDAR_ID", "primary"),
		GoogleCalendarTokenJSON: getEnv("GOOGLE_CALENDAR_TOKEN_JSON", ""),

		ReminderLeadTime:     getEnvAsDuration("REMINDER_LEAD_TIME", 24*time.Hour),
		ReminderPollInterval: getEnvAsDuration("REMINDER_POLL_INTERVAL", 5*time.Minute),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

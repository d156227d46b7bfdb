package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the static process configuration. Anything that must be
// hot-reloadable at runtime lives in dynconfig instead.
type Config struct {
	// Application
	AppName string
	Debug   bool
	Port    string

	// Logging
	LogLevel string
	LogJSON  bool

	// Database
	DatabaseType string // "sqlite" or "postgres"
	DatabasePath string // sqlite file path
	DatabaseURL  string // postgres DSN

	// Authentication
	JWTSecret         string
	JWTTTLHours       int
	AdminUsername     string
	AdminPasswordHash string // bcrypt hash; empty disables login

	// Servers root: one compose project directory per instance
	ServersRootPath string

	// Scheduler timezone (IANA name); empty means local time
	Timezone string

	// Player tracker
	HeartbeatIntervalSeconds int
	CrashThresholdMinutes    int
	ReconcileIntervalSeconds int
	SkinFetchDelayMillis     int

	// Restart slot finder
	RestartWindowStart string // "HH:MM"

	// Restic snapshot repository
	ResticRepository       string
	ResticPassword         string
	ResticInsecurePassword bool // run restic with --insecure-no-password

	// InfluxDB event archive (optional)
	InfluxDBURL    string
	InfluxDBToken  string
	InfluxDBOrg    string
	InfluxDBBucket string
}

// Load loads configuration from environment
func Load() *Config {
	// Load .env file if exists
	_ = godotenv.Load()

	return &Config{
		AppName:      getEnv("APP_NAME", "MC-Admin"),
		Debug:        getEnvBool("DEBUG", false),
		Port:         getEnv("PORT", "8000"),
		LogLevel:     getEnv("LOG_LEVEL", "INFO"),
		LogJSON:      getEnvBool("LOG_JSON", false),
		DatabaseType: getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath: getEnv("DATABASE_PATH", "./mcadmin.db"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		JWTSecret:         getEnv("JWT_SECRET", "change-me-in-production-please-use-a-random-string"),
		JWTTTLHours:       getEnvInt("JWT_TTL_HOURS", 24),
		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),

		ServersRootPath: getEnv("SERVERS_ROOT_PATH", "./servers"),
		Timezone:        getEnv("TIMEZONE", ""),

		HeartbeatIntervalSeconds: getEnvInt("HEARTBEAT_INTERVAL_SECONDS", 60),
		CrashThresholdMinutes:    getEnvInt("CRASH_THRESHOLD_MINUTES", 5),
		ReconcileIntervalSeconds: getEnvInt("RCON_RECONCILE_INTERVAL_SECONDS", 60),
		SkinFetchDelayMillis:     getEnvInt("SKIN_FETCH_DELAY_MS", 1000),

		RestartWindowStart: getEnv("RESTART_WINDOW_START", "06:00"),

		ResticRepository:       getEnv("RESTIC_REPOSITORY", ""),
		ResticPassword:         getEnv("RESTIC_PASSWORD", ""),
		ResticInsecurePassword: getEnvBool("RESTIC_INSECURE_NO_PASSWORD", false),

		InfluxDBURL:    getEnv("INFLUXDB_URL", ""),
		InfluxDBToken:  getEnv("INFLUXDB_TOKEN", ""),
		InfluxDBOrg:    getEnv("INFLUXDB_ORG", "mcadmin"),
		InfluxDBBucket: getEnv("INFLUXDB_BUCKET", "events"),
	}
}

// Location resolves the configured timezone, falling back to local time
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Printf("Invalid TIMEZONE %q, falling back to local time", c.Timezone)
		return time.Local
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			log.Printf("Invalid boolean for %s, using default: %v", key, defaultValue)
			return defaultValue
		}
		return boolVal
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intVal, err := strconv.Atoi(value)
		if err != nil {
			log.Printf("Invalid integer for %s, using default: %d", key, defaultValue)
			return defaultValue
		}
		return intVal
	}
	return defaultValue
}

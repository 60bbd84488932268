package config

import (
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	DatabaseURL string
	HTTPAddr    string
	RolesFile   string

	// Base URL of the external chat-platform integration service.
	// Empty means no platform service; role lookups return nothing and
	// notifications are logged instead of delivered.
	PlatformURL string

	// Timezone the canonical week boundaries are computed in.
	Location *time.Location

	// Weekly reset instant, in Location.
	ResetWeekday time.Weekday
	ResetHour    int

	LongBreakThreshold time.Duration
	WatchdogInterval   time.Duration
	AuditFlushDelay    time.Duration
	RoleCacheTTL       time.Duration

	// Bounded wait for the store at boot before giving up.
	StoreBootRetries  int
	StoreBootInterval time.Duration
}

var instance *Config
var once sync.Once

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func Get() *Config {
	once.Do(func() {
		if err := godotenv.Load(); err != nil {
			logrus.Info("No .env file found, using environment as-is")
		}

		instance = &Config{}

		instance.DatabaseURL = getEnv("DATABASE_URL", "")
		if instance.DatabaseURL == "" {
			logrus.Fatal("could not get db url")
		}

		instance.HTTPAddr = getEnv("HTTP_ADDR", ":8080")
		instance.RolesFile = getEnv("ROLES_FILE", "roles.yaml")
		instance.PlatformURL = getEnv("PLATFORM_URL", "")

		tz := getEnv("TIMEZONE", "UTC")
		loc, err := time.LoadLocation(tz)
		if err != nil {
			logrus.Fatalf("invalid TIMEZONE %q: %s", tz, err)
		}
		instance.Location = loc

		weekday, ok := weekdays[getEnv("RESET_WEEKDAY", "sunday")]
		if !ok {
			logrus.Fatalf("invalid RESET_WEEKDAY %q", getEnv("RESET_WEEKDAY", ""))
		}
		instance.ResetWeekday = weekday
		instance.ResetHour = int(getEnvAsInt("RESET_HOUR", 23))

		instance.LongBreakThreshold = time.Duration(getEnvAsInt("LONG_BREAK_THRESHOLD_MIN", 20)) * time.Minute
		instance.WatchdogInterval = time.Duration(getEnvAsInt("WATCHDOG_INTERVAL_MIN", 5)) * time.Minute
		instance.AuditFlushDelay = time.Duration(getEnvAsInt("AUDIT_FLUSH_DELAY_MIN", 5)) * time.Minute
		instance.RoleCacheTTL = time.Duration(getEnvAsInt("ROLE_CACHE_TTL_MIN", 5)) * time.Minute

		instance.StoreBootRetries = int(getEnvAsInt("STORE_BOOT_RETRIES", 5))
		instance.StoreBootInterval = time.Duration(getEnvAsInt("STORE_BOOT_INTERVAL_SEC", 3)) * time.Second
	})

	return instance
}

func getEnv(key string, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}

	return defaultVal
}

func getEnvAsInt(name string, defaultVal int64) int64 {
	valStr := getEnv(name, "")
	if val, err := strconv.Atoi(valStr); err == nil {
		return int64(val)
	}

	return defaultVal
}

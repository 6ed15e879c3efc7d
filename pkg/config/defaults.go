// Package config provides centralized default values for apistore
package config

import (
	"bufio"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

var envLoaded sync.Once

func loadEnvFile() {
	envLoaded.Do(func() {
		file, err := os.Open(".env")
		if err != nil {
			return
		}
		defer file.Close()

		log.Println("Loading configuration overrides from .env file...")
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())

			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}

			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}

			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])

			if os.Getenv(key) == "" {
				os.Setenv(key, value)
			}
		}
	})
}

func getEnvInt(key string, defaultValue int) int {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.Atoi(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%d (default: %d)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvString(key string, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		if val != defaultValue {
			log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
		}
		return val
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.ParseBool(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%t (default: %t)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := time.ParseDuration(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

var (
	// Store Configuration
	StoreName        string
	BaseURL          string
	DataPath         string
	HTTPTimeout      time.Duration
	BulkDeleteMethod string
	ModelsFile       string
	WarmModels       []string

	// Transport Auth
	JWTSecret   string
	JWTSubject  string
	JWTTTL      time.Duration
	StaticToken string

	// Server Configuration
	Port               string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration
	CORSOrigins        []string

	// Development Backend
	DevServerPort         string
	DevServerDBDriver     string
	DevServerDBDSN        string
	DevServerPasswordHash string
	DevServerUser         string
	DevServerSeedFile     string

	// Database Pool
	DBMaxOpenConns           int
	DBMaxIdleConns           int
	DBConnMaxLifetimeMinutes int
	DBConnMaxIdleMinutes     int
	SlowQueryThreshold       time.Duration

	// Logging
	LogLevel     string
	LogDirectory string
	LogToFile    bool

	// Performance
	SlowRequestThreshold time.Duration

	// Realtime
	WSPingInterval time.Duration
	WSWriteTimeout time.Duration

	// Cache Cleanup
	CleanupInterval time.Duration
	CleanupVerbose  bool
	CollectionTTL   time.Duration
)

func init() {
	loadEnvFile()
	Load()
}

// Load reads every setting from the environment. It runs at init and may be
// called again by tests after changing the environment.
func Load() {
	// Store Configuration
	StoreName = getEnvString("APISTORE_NAME", "api")
	BaseURL = getEnvString("APISTORE_BASE_URL", "http://localhost:8090/api")
	DataPath = getEnvString("APISTORE_DATA_PATH", "")
	HTTPTimeout = getEnvDuration("APISTORE_HTTP_TIMEOUT", 15*time.Second)
	BulkDeleteMethod = strings.ToUpper(getEnvString("APISTORE_BULK_DELETE_METHOD", "PATCH"))
	ModelsFile = getEnvString("APISTORE_MODELS_FILE", "models.yaml")
	WarmModels = splitList(os.Getenv("APISTORE_WARM_MODELS"))

	// Transport Auth
	JWTSecret = os.Getenv("APISTORE_JWT_SECRET")
	JWTSubject = getEnvString("APISTORE_JWT_SUBJECT", "apistore")
	JWTTTL = getEnvDuration("APISTORE_JWT_TTL", time.Hour)
	StaticToken = os.Getenv("APISTORE_STATIC_TOKEN")

	// Server Configuration
	Port = getEnvString("PORT", "8080")
	ServerReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second)
	ServerWriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second)
	ServerIdleTimeout = getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second)
	CORSOrigins = splitList(getEnvString("CORS_ORIGINS", "*"))

	// Development Backend
	DevServerPort = getEnvString("DEVSERVER_PORT", "8090")
	DevServerDBDriver = getEnvString("DEVSERVER_DB_DRIVER", "sqlite3")
	DevServerDBDSN = getEnvString("DEVSERVER_DB_DSN", "file:devserver.db?_foreign_keys=on")
	DevServerPasswordHash = os.Getenv("DEVSERVER_PASSWORD_HASH")
	DevServerUser = getEnvString("DEVSERVER_USER", "admin")
	DevServerSeedFile = os.Getenv("DEVSERVER_SEED_FILE")

	// Database Pool
	DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 3)
	DBConnMaxLifetimeMinutes = getEnvInt("DB_CONN_MAX_LIFETIME_MINUTES", 30)
	DBConnMaxIdleMinutes = getEnvInt("DB_CONN_MAX_IDLE_MINUTES", 3)
	SlowQueryThreshold = getEnvDuration("SLOW_QUERY_THRESHOLD", 100*time.Millisecond)

	// Logging
	LogLevel = getEnvString("LOG_LEVEL", "info")
	LogDirectory = getEnvString("LOG_DIRECTORY", "logs")
	LogToFile = getEnvBool("LOG_TO_FILE", false)

	// Performance
	SlowRequestThreshold = getEnvDuration("SLOW_REQUEST_THRESHOLD", 500*time.Millisecond)

	// Realtime
	WSPingInterval = getEnvDuration("WS_PING_INTERVAL", 30*time.Second)
	WSWriteTimeout = getEnvDuration("WS_WRITE_TIMEOUT", 10*time.Second)

	// Cache Cleanup
	CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 5*time.Minute)
	CleanupVerbose = getEnvBool("CLEANUP_VERBOSE", false)
	CollectionTTL = getEnvDuration("COLLECTION_TTL", 0)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

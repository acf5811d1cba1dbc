package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

type DB struct {
	DbHOST     string
	DbPORT     string
	DbUSER     string
	DbPASSWORD string
	DbNAME     string
	DbSSLMODE  string
}

type MinIO struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	BucketName string
	UseSSL     bool
	Region     string
	PublicURL  string
}

type Storage struct {
	Backend   string
	LocalRoot string
	BaseURL   string
}

type Generation struct {
	MaxWorkers          int
	MaxRetries          int
	TextTimeout         time.Duration
	ImageTimeout        time.Duration
	JobTimeout          time.Duration
	DefaultDailyLimit   int
	ImageDownscaleMaxPx int
	ImageQuality        int
	PlaceholderEnabled  bool
	PollInterval        time.Duration
}

type Providers struct {
	OpenAIKey        string
	OpenAIModel      string
	DeepSeekKey      string
	DeepSeekModel    string
	DeepSeekBaseURL  string
	GeminiKey        string
	DalleModel       string
	GeminiImageModel string
	TextQPS          float64
	ImageQPS         float64
}

type Config struct {
	ServerPort        int
	StoreBackend      string
	MigrationsPath    string
	DB                DB
	MinIO             MinIO
	Storage           Storage
	Generation        Generation
	Providers         Providers
	SchedulerTimezone string
	LogLevel          string
	JWTSecretKey      string
	AuthorName        string
	PublisherName     string
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return fallback
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvSeconds reads a whole number of seconds.
func getEnvSeconds(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultValue)) * time.Second
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return duration
}

func LoadDB() DB {
	return DB{
		DbHOST:     getEnv("DB_HOST", "localhost"),
		DbPORT:     getEnv("DB_PORT", "5432"),
		DbUSER:     getEnv("DB_USER", "postgres"),
		DbPASSWORD: getEnv("DB_PASSWORD", "password"),
		DbNAME:     getEnv("DB_NAME", "autopublisher"),
		DbSSLMODE:  getEnv("DB_SSLMODE", "disable"),
	}
}

func LoadMinIO() MinIO {
	return MinIO{
		Endpoint:   getEnv("MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:  getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		SecretKey:  getEnv("MINIO_SECRET_KEY", "minioadmin"),
		BucketName: getEnv("MINIO_BUCKET_NAME", "images"),
		UseSSL:     getEnvBool("MINIO_USE_SSL", false),
		Region:     getEnv("MINIO_REGION", "us-east-1"),
		PublicURL:  strings.TrimSuffix(getEnv("MINIO_PUBLIC_URL", ""), "/"),
	}
}

func LoadStorage() Storage {
	return Storage{
		Backend:   getEnv("STORAGE_BACKEND", "local"),
		LocalRoot: getEnv("STORAGE_LOCAL_ROOT", "media"),
		BaseURL:   strings.TrimSuffix(getEnv("STORAGE_BASE_URL", "/media"), "/"),
	}
}

func LoadGeneration() Generation {
	return Generation{
		MaxWorkers:          getEnvAsInt("MAX_WORKERS", 2),
		MaxRetries:          getEnvAsInt("MAX_RETRIES", 3),
		TextTimeout:         getEnvSeconds("TEXT_TIMEOUT_S", 60),
		ImageTimeout:        getEnvSeconds("IMAGE_TIMEOUT_S", 45),
		JobTimeout:          getEnvSeconds("JOB_TIMEOUT_S", 600),
		DefaultDailyLimit:   getEnvAsInt("DEFAULT_DAILY_LIMIT", 10),
		ImageDownscaleMaxPx: getEnvAsInt("IMAGE_DOWNSCALE_MAX_PX", 1200),
		ImageQuality:        getEnvAsInt("IMAGE_QUALITY", 85),
		PlaceholderEnabled:  getEnvBool("IMAGE_PLACEHOLDER_ENABLED", true),
		PollInterval:        parseDuration(getEnv("POLL_INTERVAL", "2s"), 2*time.Second),
	}
}

func LoadProviders() Providers {
	return Providers{
		OpenAIKey:        getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:      getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		DeepSeekKey:      getEnv("DEEPSEEK_API_KEY", ""),
		DeepSeekModel:    getEnv("DEEPSEEK_MODEL", "deepseek-chat"),
		DeepSeekBaseURL:  getEnv("DEEPSEEK_BASE_URL", "https://api.deepseek.com/v1"),
		GeminiKey:        getEnv("GEMINI_API_KEY", ""),
		DalleModel:       getEnv("DALLE_MODEL", "dall-e-3"),
		GeminiImageModel: getEnv("GEMINI_IMAGE_MODEL", "imagen-3.0-generate-002"),
		TextQPS:          getEnvAsFloat("PROVIDER_QPS_TEXT", 3),
		ImageQPS:         getEnvAsFloat("PROVIDER_QPS_IMAGE", 1),
	}
}

func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	return &Config{
		ServerPort:        getEnvAsInt("SERVER_PORT", 8080),
		StoreBackend:      getEnv("STORE_BACKEND", "postgres"),
		MigrationsPath:    getEnv("MIGRATIONS_PATH", "migrations/001_create_tables.sql"),
		DB:                LoadDB(),
		MinIO:             LoadMinIO(),
		Storage:           LoadStorage(),
		Generation:        LoadGeneration(),
		Providers:         LoadProviders(),
		SchedulerTimezone: getEnv("SCHEDULER_TIMEZONE", "UTC"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		JWTSecretKey:      getEnv("JWT_SECRET_KEY", ""),
		AuthorName:        getEnv("AUTHOR_NAME", "Editorial Team"),
		PublisherName:     getEnv("PUBLISHER_NAME", "AutoPublisher"),
	}
}

// Location resolves SchedulerTimezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.SchedulerTimezone)
	if err != nil {
		log.Printf("Warning: unknown SCHEDULER_TIMEZONE %q, using UTC", c.SchedulerTimezone)
		return time.UTC
	}
	return loc
}

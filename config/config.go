package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	AWS        AWSConfig
	QR         QRConfig
	RateLimit  RateLimitConfig
	Attendance AttendanceConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	PublicBaseURL      string // prefix for ticket links returned to clients
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/attendance?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
	Issuer      string
}

// AWSConfig holds AWS credentials and the bucket for archived ticket images.
// An empty TicketsBucket disables archiving; tickets are then rendered on request.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	TicketsBucket        string
	PresignExpireMinutes int
}

// QRConfig controls ticket image rendering.
type QRConfig struct {
	Size       int
	Recovery   string // low, medium, high, highest
	Foreground string // hex colour, e.g. #000000
	Background string
}

// RateLimitConfig bounds requests per client per minute for each limited route.
type RateLimitConfig struct {
	CheckInPerMinute int
	SignupPerMinute  int
	LoginPerMinute   int
}

// AttendanceConfig holds the attendance authorization policy knobs.
type AttendanceConfig struct {
	// GlobalCommittees are committee tokens whose members may manage attendance for every event.
	GlobalCommittees []string
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			PublicBaseURL:      strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "attendance"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 12),
			Issuer:      getEnv("JWT_ISSUER", "attendance"),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "eu-west-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			TicketsBucket:        getEnv("AWS_S3_TICKETS_BUCKET", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		QR: QRConfig{
			Size:       getEnvInt("QR_SIZE", 256),
			Recovery:   getEnv("QR_RECOVERY", "medium"),
			Foreground: getEnv("QR_FOREGROUND", "#000000"),
			Background: getEnv("QR_BACKGROUND", "#FFFFFF"),
		},
		RateLimit: RateLimitConfig{
			CheckInPerMinute: getEnvInt("RATE_LIMIT_CHECKIN_PER_MINUTE", 120),
			SignupPerMinute:  getEnvInt("RATE_LIMIT_SIGNUP_PER_MINUTE", 10),
			LoginPerMinute:   getEnvInt("RATE_LIMIT_LOGIN_PER_MINUTE", 5),
		},
		Attendance: AttendanceConfig{
			GlobalCommittees: splitTrim(getEnv("ATTENDANCE_GLOBAL_COMMITTEES", "bestuur,ict"), ","),
		},
	}
	if cfg.QR.Size <= 0 {
		return nil, fmt.Errorf("QR_SIZE must be positive, got %d", cfg.QR.Size)
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

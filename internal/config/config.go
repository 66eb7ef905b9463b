package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env             string
	HTTPPort        string
	RedisAddr       string
	JWTIssuer       string
	JWTSigningKey   string
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	QueueBackend    string
	SessionBackend  string
	RateLimitPerMin int
	// LoginRateLimitPerMin bounds login attempts per client IP; 0 disables.
	LoginRateLimitPerMin int

	Detector         string
	DetectDelay      time.Duration
	MatchProbability float64
	FaceServiceURL   string
	FaceSkip         bool
	FaceThreshold    float64

	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	CloudinaryFolder    string
}

// Load reads an optional .env file and returns the config populated from
// environment variables with sensible defaults.
func Load() App {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("ignoring .env: %v", err)
	}
	return App{
		Env:                  getEnv("APP_ENV", "dev"),
		HTTPPort:             getEnv("HTTP_PORT", "8081"),
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		JWTIssuer:            getEnv("JWT_ISSUER", "facescan"),
		JWTSigningKey:        getEnv("JWT_SIGNING_KEY", "dev-signing-secret-change"),
		AccessTTL:            durationEnv("ACCESS_TTL", 15*time.Minute),
		RefreshTTL:           durationEnv("REFRESH_TTL", 24*time.Hour),
		QueueBackend:         getEnv("QUEUE_BACKEND", "memory"),
		SessionBackend:       getEnv("SESSION_BACKEND", "memory"),
		RateLimitPerMin:      intEnv("RATE_LIMIT_PER_MIN", 120),
		LoginRateLimitPerMin: intEnv("LOGIN_RATE_LIMIT_PER_MIN", 10),

		Detector:         getEnv("DETECTOR", "simulated"),
		DetectDelay:      durationEnv("DETECT_DELAY", 2*time.Second),
		MatchProbability: floatEnv("MATCH_PROBABILITY", 0.7),
		FaceServiceURL:   getEnv("FACE_SERVICE_URL", "http://localhost:8000"),
		FaceSkip:         boolEnv("FACE_SKIP", true),
		FaceThreshold:    floatEnv("FACE_THRESHOLD", 0.45),

		CloudinaryCloudName: getEnv("CLOUDINARY_CLOUD_NAME", ""),
		CloudinaryAPIKey:    getEnv("CLOUDINARY_API_KEY", ""),
		CloudinaryAPISecret: getEnv("CLOUDINARY_API_SECRET", ""),
		CloudinaryFolder:    getEnv("CLOUDINARY_FOLDER", "facescan/students"),
	}
}

// Production reports whether the service runs in a production environment.
func (a App) Production() bool {
	return a.Env == "production" || a.Env == "prod"
}

// CloudinaryEnabled reports whether all Cloudinary credentials are set.
func (a App) CloudinaryEnabled() bool {
	return a.CloudinaryCloudName != "" && a.CloudinaryAPIKey != "" && a.CloudinaryAPISecret != ""
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Printf("invalid duration for %s: %v, using fallback %s", key, err, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if val == "1" || val == "true" || val == "TRUE" {
			return true
		}
		if val == "0" || val == "false" || val == "FALSE" {
			return false
		}
		log.Printf("invalid bool for %s, using fallback %v", key, fallback)
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		log.Printf("invalid int for %s, using fallback %d", key, fallback)
	}
	return fallback
}

func floatEnv(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return parsed
		}
		log.Printf("invalid float for %s, using fallback %v", key, fallback)
	}
	return fallback
}

package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"outreach-engine/internal/commission"
	"outreach-engine/internal/points"
)

type Config struct {
	DBUser        string
	DBPassword    string
	DBName        string
	DBHost        string
	DBPort        string
	RedisHost     string
	RedisPort     string
	RedisPassword string

	ProtectionWindow  time.Duration
	MaxLevel          int
	ReleaseInterval   time.Duration
	DispatchQueue     string
	BonusThresholds   []points.Threshold
	DeactivatedPolicy commission.DeactivatedPolicy
	RedeemPolicy      points.RedeemPolicy
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	return &Config{
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "postgres"),
		DBName:        getEnv("DB_NAME", "outreach_engine"),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		ProtectionWindow:  time.Duration(getEnvInt("PROTECTION_WINDOW_DAYS", 28)) * 24 * time.Hour,
		MaxLevel:          getEnvInt("MAX_COMMISSION_LEVEL", 7),
		ReleaseInterval:   time.Duration(getEnvInt("RELEASE_INTERVAL_MINUTES", 60)) * time.Minute,
		DispatchQueue:     getEnv("DISPATCH_QUEUE", "payout:dispatch"),
		BonusThresholds:   parseThresholds(getEnv("BONUS_THRESHOLDS", "25:50.00")),
		DeactivatedPolicy: parseDeactivatedPolicy(getEnv("DEACTIVATED_POLICY", "skip")),
		RedeemPolicy:      parseRedeemPolicy(getEnv("REDEEM_POLICY", "keep")),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		log.Printf("Invalid %s=%q, using %d", key, value, fallback)
	}
	return fallback
}

// parseThresholds reads "points:bonus" pairs, e.g. "25:50.00,100:250.00".
// Malformed pairs are skipped with a log line.
func parseThresholds(raw string) []points.Threshold {
	var out []points.Threshold
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 {
			log.Printf("Skipping malformed bonus threshold %q", pair)
			continue
		}
		pts, err := strconv.Atoi(parts[0])
		if err != nil {
			log.Printf("Skipping malformed bonus threshold %q", pair)
			continue
		}
		bonus, err := decimal.NewFromString(parts[1])
		if err != nil {
			log.Printf("Skipping malformed bonus threshold %q", pair)
			continue
		}
		out = append(out, points.Threshold{Points: pts, Bonus: bonus})
	}
	return out
}

func parseDeactivatedPolicy(raw string) commission.DeactivatedPolicy {
	if strings.EqualFold(raw, "stop") {
		return commission.DeactivatedStop
	}
	return commission.DeactivatedSkip
}

func parseRedeemPolicy(raw string) points.RedeemPolicy {
	if strings.EqualFold(raw, "reset") {
		return points.RedeemReset
	}
	return points.RedeemKeep
}

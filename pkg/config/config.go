package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppEnv         string
	HTTPAddr       string
	MigrationsPath string
	LogLevel       string

	// Store selects the persistence backend: "postgres" (default) or "memory" for local demos.
	Store string

	// Supabase/hosted Postgres convenience:
	// - DATABASE_URL: runtime connection (often PgBouncer/pooler)
	// - DIRECT_URL: direct connection for migrations and LISTEN
	DatabaseURL string
	DirectURL   string

	DB DBConfig

	Auth AuthConfig

	Booking BookingConfig

	// AllowedOrigins is the CORS allowlist for the dashboard frontends. Example:
	//   https://app.example.com,http://localhost:5173
	AllowedOrigins []string
}

type DBConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
}

type AuthConfig struct {
	// JWTSecret is the Supabase project JWT secret used to sign access tokens (HS256).
	JWTSecret string
	// Audience is the expected "aud" claim; Supabase uses "authenticated".
	Audience string
}

type BookingConfig struct {
	// PromoteAfter is how long a pending booking stays associated-only before it opens to the market.
	PromoteAfter time.Duration
	// PromoteInterval is the promotion job tick. Zero disables the in-process job.
	PromoteInterval time.Duration
	// ReofferRejected clones a rejected booking into a new open-market booking right after the reject.
	ReofferRejected bool
	// PickupGrace tolerates clock skew when checking that pickup time is not in the past.
	PickupGrace time.Duration
}

func Load() Config {
	// Convenience for local dev: load variables from .env if present.
	// In production, rely on real environment variables.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if path := v.GetString("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		// A missing or broken file falls back to env + defaults.
		_ = v.ReadInConfig()
	}

	// Cloud Run sets PORT. Prefer it when HTTP_ADDR isn't explicitly set.
	httpAddr := v.GetString("HTTP_ADDR")
	if httpAddr == "" {
		if port := v.GetString("PORT"); port != "" {
			httpAddr = ":" + port
		} else {
			httpAddr = ":8081"
		}
	}

	return Config{
		AppEnv:         v.GetString("APP_ENV"),
		HTTPAddr:       httpAddr,
		MigrationsPath: v.GetString("MIGRATIONS_PATH"),
		LogLevel:       v.GetString("LOG_LEVEL"),
		Store:          strings.ToLower(v.GetString("STORE")),
		DatabaseURL:    v.GetString("DATABASE_URL"),
		DirectURL:      v.GetString("DIRECT_URL"),
		DB: DBConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			Name:     v.GetString("DB_NAME"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("SUPABASE_JWT_SECRET"),
			Audience:  v.GetString("SUPABASE_JWT_AUDIENCE"),
		},
		Booking: BookingConfig{
			PromoteAfter:    v.GetDuration("BOOKING_PROMOTE_AFTER"),
			PromoteInterval: v.GetDuration("BOOKING_PROMOTE_INTERVAL"),
			ReofferRejected: v.GetBool("BOOKING_REOFFER_REJECTED"),
			PickupGrace:     v.GetDuration("BOOKING_PICKUP_GRACE"),
		},
		AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE", "postgres")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "cabbooking")
	v.SetDefault("DB_USER", "cabbooking")
	v.SetDefault("DB_PASSWORD", "cabbooking")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("SUPABASE_JWT_AUDIENCE", "authenticated")
	v.SetDefault("BOOKING_PROMOTE_AFTER", "15m")
	v.SetDefault("BOOKING_PROMOTE_INTERVAL", "1m")
	v.SetDefault("BOOKING_REOFFER_REJECTED", false)
	v.SetDefault("BOOKING_PICKUP_GRACE", "5m")
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:8080")
}

func splitList(csv string) []string {
	var out []string
	for _, s := range strings.Split(csv, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

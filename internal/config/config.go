package config // package config loads application configuration from environment variables

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration values.  Each field
// corresponds to an environment variable.  Durations governing the
// booking lifecycle (lock timeout, showtime grace, cancellation
// cutoff, pending payment TTL, sweep interval) have defaults that
// match the product rules and rarely need overriding outside tests.
type Config struct {
	Env            string // application environment (e.g. "dev", "prod")
	Port           string // HTTP port to listen on
	DBUser         string // database username
	DBPass         string // database password (optional)
	DBHost         string // database host address
	DBPort         string // database port number
	DBName         string // database name
	JWTSecret      string // secret used to sign JWTs
	AccessTTLMin   int    // access token time-to-live in minutes
	RefreshTTLDays int    // refresh token time-to-live in days
	BcryptCost     int    // bcrypt cost for password hashing

	SeatLockTTL   time.Duration // how long a seat lock lives before it may be swept
	BookingGrace  time.Duration // grace after showtime before a paid booking expires
	CancelCutoff  time.Duration // minimum time before showtime to allow cancellation
	PendingTTL    time.Duration // how long a pending booking may wait for payment
	SweepInterval time.Duration // scheduled sweeper period

	PaymentBaseURL   string // payment gateway API base URL
	PaymentKeyID     string // gateway key id, also exposed to clients for checkout
	PaymentKeySecret string // gateway signing secret, server-held only
	PaymentCurrency  string // ISO currency code for gateway orders
}

// Load reads configuration values from environment variables and
// returns a Config.  Required variables are enforced by must() and
// missing values cause the program to exit with a fatal log message.
func Load() Config {
	return Config{
		Env:            must("APP_ENV"),
		Port:           must("APP_PORT"),
		DBUser:         must("DB_USER"),
		DBPass:         os.Getenv("DB_PASS"), // empty allowed
		DBHost:         must("DB_HOST"),
		DBPort:         must("DB_PORT"),
		DBName:         must("DB_NAME"),
		JWTSecret:      must("JWT_SECRET"),
		AccessTTLMin:   mustInt("ACCESS_TOKEN_TTL_MIN"),
		RefreshTTLDays: mustInt("REFRESH_TOKEN_TTL_DAYS"),
		BcryptCost:     mustInt("BCRYPT_COST"),

		SeatLockTTL:   envDur("SEAT_LOCK_TTL", 5*time.Minute),
		BookingGrace:  envDur("BOOKING_GRACE", 15*time.Minute),
		CancelCutoff:  envDur("CANCEL_CUTOFF", time.Hour),
		PendingTTL:    envDur("PENDING_TTL", 30*time.Minute),
		SweepInterval: envDur("SWEEP_INTERVAL", 5*time.Minute),

		PaymentBaseURL:   must("PAYMENT_BASE_URL"),
		PaymentKeyID:     must("PAYMENT_KEY_ID"),
		PaymentKeySecret: must("PAYMENT_KEY_SECRET"),
		PaymentCurrency:  getenv("PAYMENT_CURRENCY", "INR"),
	}
}

// must retrieves the value of a required environment variable.  If
// the variable is unset or empty, the application logs a fatal error
// and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustInt is like must() but converts the retrieved string into an
// integer.  If conversion fails, the application logs a fatal error
// and exits.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}

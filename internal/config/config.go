package config // package config loads application configuration from environment variables

import (
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
	"time"
)

// Config holds all runtime configuration values. Each field corresponds to
// an environment variable. Required variables are enforced by must() and
// missing values cause the program to exit with a fatal log message.
type Config struct {
	Env  string // application environment (e.g. "dev", "prod")
	Port string // HTTP port to listen on

	DBUser string // database username
	DBPass string // database password (optional)
	DBHost string // database host address
	DBPort string // database port number
	DBName string // database name

	Auth AuthConfig // token and login policy settings
	TOTP TOTPConfig // MFA settings
}

// AuthConfig groups everything the token service and login policy engine
// need: signing material, token lifetimes and the lockout policy.
type AuthConfig struct {
	JWTSecret       string        // secret used to sign JWTs (HS256)
	Issuer          string        // iss claim stamped into every payload
	AccessTTL       time.Duration // access token lifetime
	RefreshTTL      time.Duration // refresh token / session lifetime
	RotateRefresh   bool          // rotate the refresh token on every refresh
	BcryptCost      int           // bcrypt cost for password hashing
	MaxLoginFails   int           // failed attempts before auto-lock
	LockoutDuration time.Duration // how long an auto-lock lasts
	ResetTokenTTL   time.Duration // password reset token lifetime
	VerifyTokenTTL  time.Duration // email verification token lifetime
	MFAKey          string        // 32-byte key for MFA secret encryption at rest
}

// TOTPConfig holds time-based one-time password parameters. The defaults
// match standard authenticator apps: 6 digits, 30 second period, one period
// of clock-skew tolerance either way.
type TOTPConfig struct {
	IssuerName  string // name shown in authenticator apps
	Digits      int    // code length
	PeriodSec   int    // code rotation period in seconds
	Skew        int    // accepted clock-skew window in periods
	BackupCodes int    // number of backup codes generated per account
}

// Load reads configuration values from environment variables and returns a
// Config. Optional values fall back to the documented defaults.
func Load() Config {
	return Config{
		Env:    must("APP_ENV"),
		Port:   must("APP_PORT"),
		DBUser: must("DB_USER"),
		DBPass: os.Getenv("DB_PASS"), // empty allowed
		DBHost: must("DB_HOST"),
		DBPort: must("DB_PORT"),
		DBName: must("DB_NAME"),
		Auth: AuthConfig{
			JWTSecret:       must("JWT_SECRET"),
			Issuer:          envStr("JWT_ISSUER", "captive-portal"),
			AccessTTL:       envDur("ACCESS_TOKEN_TTL", time.Hour),
			RefreshTTL:      envDur("REFRESH_TOKEN_TTL", 7*24*time.Hour),
			RotateRefresh:   envBool("ROTATE_REFRESH_TOKENS", true),
			BcryptCost:      envInt("BCRYPT_COST", 12),
			MaxLoginFails:   envInt("MAX_LOGIN_ATTEMPTS", 5),
			LockoutDuration: envDur("LOCKOUT_DURATION", 5*time.Minute),
			ResetTokenTTL:   envDur("PASSWORD_RESET_TTL", time.Hour),
			VerifyTokenTTL:  envDur("EMAIL_VERIFICATION_TTL", 24*time.Hour),
			MFAKey:          must("MFA_ENCRYPTION_KEY"),
		},
		TOTP: TOTPConfig{
			IssuerName:  envStr("TOTP_ISSUER_NAME", "CaptiveNet"),
			Digits:      envInt("TOTP_DIGITS", 6),
			PeriodSec:   envInt("TOTP_PERIOD", 30),
			Skew:        envInt("TOTP_SKEW", 1),
			BackupCodes: envInt("MFA_BACKUP_CODES_COUNT", 10),
		},
	}
}

// must retrieves the value of a required environment variable. If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Default timeout windows. The local verification window matches the
// original client behavior (stop code must be presented within 60s of
// the alarm firing). The server-side escalation window is deliberately
// longer: when the app is alive its own timeout report wins, and the
// relay sweep only fires for a killed process.
const (
	DefaultVerificationWindow = 60 * time.Second
	DefaultEscalationWindow   = 180 * time.Second
)

// App holds the client-side configuration (the alarm app core).
type App struct {
	RelayURL           string
	RelaySecret        string
	DeviceID           string
	EmergencyPhone     string
	DataDir            string
	VerificationWindow time.Duration
	EscalationWindow   time.Duration
}

// Relay holds the escalation relay server configuration.
type Relay struct {
	DatabaseURL      string
	Port             string
	RelaySecret      string
	SweepInterval    time.Duration
	SMSRetryAfter    time.Duration
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	DevMode          bool
}

// Load reads the app configuration from environment variables.
func Load() (*App, error) {
	cfg := &App{
		DataDir:            ".wakeorpay",
		VerificationWindow: DefaultVerificationWindow,
		EscalationWindow:   DefaultEscalationWindow,
	}

	// RELAY_URL is optional: without it escalation is disabled and the
	// core runs with a logging no-op gateway.
	cfg.RelayURL = os.Getenv("RELAY_URL")
	cfg.RelaySecret = os.Getenv("RELAY_SECRET")
	if cfg.RelayURL != "" && cfg.RelaySecret == "" {
		return nil, fmt.Errorf("RELAY_SECRET environment variable is required when RELAY_URL is set")
	}

	cfg.DeviceID = os.Getenv("DEVICE_ID")
	if cfg.DeviceID == "" {
		cfg.DeviceID = "unknown"
	}

	cfg.EmergencyPhone = os.Getenv("EMERGENCY_PHONE")

	if dir := os.Getenv("DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}

	var err error
	if cfg.VerificationWindow, err = durationEnv("VERIFICATION_WINDOW", DefaultVerificationWindow); err != nil {
		return nil, err
	}
	if cfg.EscalationWindow, err = durationEnv("ESCALATION_WINDOW", DefaultEscalationWindow); err != nil {
		return nil, err
	}
	if cfg.EscalationWindow < cfg.VerificationWindow {
		return nil, fmt.Errorf("ESCALATION_WINDOW (%v) must not be shorter than VERIFICATION_WINDOW (%v)",
			cfg.EscalationWindow, cfg.VerificationWindow)
	}

	return cfg, nil
}

// LoadRelay reads the relay server configuration from environment variables.
func LoadRelay() (*Relay, error) {
	cfg := &Relay{
		Port:          "8080",
		SweepInterval: 10 * time.Second,
		SMSRetryAfter: 5 * time.Minute,
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	cfg.RelaySecret = os.Getenv("RELAY_SECRET")
	if cfg.RelaySecret == "" {
		return nil, fmt.Errorf("RELAY_SECRET environment variable is required")
	}

	var err error
	if cfg.SweepInterval, err = durationEnv("SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return nil, err
	}
	if cfg.SMSRetryAfter, err = durationEnv("SMS_RETRY_AFTER", cfg.SMSRetryAfter); err != nil {
		return nil, err
	}

	cfg.DevMode = os.Getenv("DEV_MODE") == "true"

	cfg.TwilioAccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	cfg.TwilioAuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	cfg.TwilioFromNumber = os.Getenv("TWILIO_PHONE_NUMBER")
	if !cfg.DevMode {
		if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" || cfg.TwilioFromNumber == "" {
			return nil, fmt.Errorf("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_PHONE_NUMBER are required unless DEV_MODE=true")
		}
	}

	return cfg, nil
}

// durationEnv parses the env var as seconds, falling back to def.
func durationEnv(name string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0, fmt.Errorf("%s must be a positive number of seconds, got %q", name, raw)
	}
	return time.Duration(secs) * time.Second, nil
}

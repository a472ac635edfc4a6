package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "DAYBOOK"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "daybook.db"
	defaultLogLevel      = "info"
	defaultSessionIssuer = "daybook-auth"
	defaultAudience      = "daybook-api"
	defaultTokenTTL      = 30
	defaultBufferMinutes = 120
	defaultSlotMinutes   = 30
	defaultDayStart      = "09:00"
	defaultDayEnd        = "17:00"
	defaultTimezone      = "UTC"
	defaultServerURL     = "http://127.0.0.1:8080"
	defaultKeyringName   = "daybook"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	LogLevel     string

	SigningSecret   string
	SessionIssuer   string
	SessionAudience string
	TokenTTL        time.Duration

	IDPIssuer   string
	IDPAudience string
	IDPJWKSURL  string

	AdminSubjects []string

	BookingBuffer    time.Duration
	BookingSlotWidth time.Duration
	BookingDayStart  time.Duration
	BookingDayEnd    time.Duration
	BookingLocation  *time.Location
}

// ClientConfig captures runtime configuration for the CLI client.
type ClientConfig struct {
	ServerURL      string
	KeyringService string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)

	configViper.SetDefault("auth.issuer", defaultSessionIssuer)
	configViper.SetDefault("auth.audience", defaultAudience)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTL)

	configViper.SetDefault("admin.subjects", []string{})

	configViper.SetDefault("booking.buffer_minutes", defaultBufferMinutes)
	configViper.SetDefault("booking.slot_minutes", defaultSlotMinutes)
	configViper.SetDefault("booking.day_start", defaultDayStart)
	configViper.SetDefault("booking.day_end", defaultDayEnd)
	configViper.SetDefault("booking.timezone", defaultTimezone)

	configViper.SetDefault("server.url", defaultServerURL)
	configViper.SetDefault("keyring.service", defaultKeyringName)
}

// Load parses the server configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	dayStart, err := parseClock(configViper.GetString("booking.day_start"))
	if err != nil {
		return AppConfig{}, fmt.Errorf("booking.day_start: %w", err)
	}
	dayEnd, err := parseClock(configViper.GetString("booking.day_end"))
	if err != nil {
		return AppConfig{}, fmt.Errorf("booking.day_end: %w", err)
	}
	location, err := time.LoadLocation(configViper.GetString("booking.timezone"))
	if err != nil {
		return AppConfig{}, fmt.Errorf("booking.timezone: %w", err)
	}

	cfg := AppConfig{
		HTTPAddress:  configViper.GetString("http.address"),
		DatabasePath: configViper.GetString("database.path"),
		LogLevel:     configViper.GetString("log.level"),

		SigningSecret:   configViper.GetString("auth.signing_secret"),
		SessionIssuer:   configViper.GetString("auth.issuer"),
		SessionAudience: configViper.GetString("auth.audience"),
		TokenTTL:        time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,

		IDPIssuer:   configViper.GetString("idp.issuer"),
		IDPAudience: configViper.GetString("idp.audience"),
		IDPJWKSURL:  configViper.GetString("idp.jwks_url"),

		AdminSubjects: splitSubjects(configViper.GetStringSlice("admin.subjects")),

		BookingBuffer:    time.Duration(configViper.GetInt("booking.buffer_minutes")) * time.Minute,
		BookingSlotWidth: time.Duration(configViper.GetInt("booking.slot_minutes")) * time.Minute,
		BookingDayStart:  dayStart,
		BookingDayEnd:    dayEnd,
		BookingLocation:  location,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// LoadClient parses the CLI client configuration from viper.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		ServerURL:      strings.TrimRight(configViper.GetString("server.url"), "/"),
		KeyringService: configViper.GetString("keyring.service"),
	}
	if strings.TrimSpace(cfg.ServerURL) == "" {
		return ClientConfig{}, fmt.Errorf("server.url is required")
	}
	if strings.TrimSpace(cfg.KeyringService) == "" {
		return ClientConfig{}, fmt.Errorf("keyring.service is required")
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if strings.TrimSpace(c.IDPIssuer) == "" {
		return fmt.Errorf("idp.issuer is required")
	}
	if strings.TrimSpace(c.IDPAudience) == "" {
		return fmt.Errorf("idp.audience is required")
	}
	if strings.TrimSpace(c.IDPJWKSURL) == "" {
		return fmt.Errorf("idp.jwks_url is required")
	}
	if c.BookingSlotWidth <= 0 {
		return fmt.Errorf("booking.slot_minutes must be positive")
	}
	if c.BookingBuffer < 0 {
		return fmt.Errorf("booking.buffer_minutes must not be negative")
	}
	if c.BookingDayStart >= c.BookingDayEnd {
		return fmt.Errorf("booking.day_start must precede booking.day_end")
	}
	return nil
}

// parseClock reads an HH:MM value as an offset from midnight.
func parseClock(value string) (time.Duration, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", value)
	}
	return time.Duration(parsed.Hour())*time.Hour + time.Duration(parsed.Minute())*time.Minute, nil
}

// splitSubjects accepts both repeated values and comma-separated entries.
func splitSubjects(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/MarcoPoloResearchLab/chorus/backend/internal/entitymanager"
)

const (
	envPrefix             = "CHORUS"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabaseDriver = DriverSQLite
	defaultDatabasePath   = "chorus.db"
	defaultLogLevel       = "info"
	defaultLogEncoding    = "json"
	defaultAuthIssuer     = "chorus-indexer"
	defaultAuthAudience   = "chorus-ingest"
	defaultTokenTTL       = 24 * 60
	defaultDecodeWorkers  = 4
	defaultMaxSkipped     = 10
	defaultSignatureDrift = time.Hour
	defaultAppName        = "Audius"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the indexer.
type AppConfig struct {
	HTTPAddress string

	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string

	LogLevel    string
	LogEncoding string

	SigningSecret string
	Issuer        string
	Audience      string
	TokenTTL      time.Duration

	DecodeWorkers int
	MaxSkipped    int
	Peers         []string
	PeerQuorum    int

	EnabledEntityTypes []string
	SignatureDrift     time.Duration
	AppName            string
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
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.encoding", defaultLogEncoding)
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("auth.audience", defaultAuthAudience)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTL)
	configViper.SetDefault("indexer.decode_workers", defaultDecodeWorkers)
	configViper.SetDefault("indexer.max_skipped_transactions", defaultMaxSkipped)
	configViper.SetDefault("indexer.peer_quorum", 0)
	configViper.SetDefault("engine.signature_drift", defaultSignatureDrift)
	configViper.SetDefault("engine.app_name", defaultAppName)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabaseDriver:     strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:       configViper.GetString("database.path"),
		DatabaseDSN:        configViper.GetString("database.dsn"),
		LogLevel:           configViper.GetString("log.level"),
		LogEncoding:        configViper.GetString("log.encoding"),
		SigningSecret:      configViper.GetString("auth.signing_secret"),
		Issuer:             configViper.GetString("auth.issuer"),
		Audience:           configViper.GetString("auth.audience"),
		TokenTTL:           time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		DecodeWorkers:      configViper.GetInt("indexer.decode_workers"),
		MaxSkipped:         configViper.GetInt("indexer.max_skipped_transactions"),
		Peers:              splitList(configViper.GetStringSlice("indexer.peers")),
		PeerQuorum:         configViper.GetInt("indexer.peer_quorum"),
		EnabledEntityTypes: splitList(configViper.GetStringSlice("engine.enabled_entity_types")),
		SignatureDrift:     configViper.GetDuration("engine.signature_drift"),
		AppName:            configViper.GetString("engine.app_name"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	switch c.DatabaseDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.DecodeWorkers <= 0 {
		return fmt.Errorf("indexer.decode_workers must be positive")
	}
	if c.MaxSkipped < 0 {
		return fmt.Errorf("indexer.max_skipped_transactions must not be negative")
	}
	if c.PeerQuorum < 0 || c.PeerQuorum > len(c.Peers) {
		return fmt.Errorf("indexer.peer_quorum must be between 0 and the number of peers")
	}
	if _, err := c.entityTypes(); err != nil {
		return err
	}
	return nil
}

// EngineConfig derives the replay engine configuration.
func (c AppConfig) EngineConfig() entitymanager.EngineConfig {
	enabled, _ := c.entityTypes()
	return entitymanager.EngineConfig{
		EnabledEntityTypes: enabled,
		SignatureDrift:     c.SignatureDrift,
		AppName:            c.AppName,
	}
}

// entityTypes resolves the enabled entity types. An empty list enables all.
func (c AppConfig) entityTypes() ([]entitymanager.EntityType, error) {
	if len(c.EnabledEntityTypes) == 0 {
		return entitymanager.AllEntityTypes(), nil
	}
	known := make(map[string]entitymanager.EntityType)
	for _, entityType := range entitymanager.AllEntityTypes() {
		known[strings.ToLower(string(entityType))] = entityType
	}
	enabled := make([]entitymanager.EntityType, 0, len(c.EnabledEntityTypes))
	for _, name := range c.EnabledEntityTypes {
		entityType, ok := known[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("engine.enabled_entity_types: unknown entity type %q", name)
		}
		enabled = append(enabled, entityType)
	}
	return enabled, nil
}

// splitList flattens comma separated entries, which is how list values
// arrive from the environment.
func splitList(values []string) []string {
	var result []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}

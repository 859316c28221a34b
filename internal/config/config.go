package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gregtusar/volsurface/pkg/secrets"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Model     ModelConfig     `mapstructure:"model"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Animation AnimationConfig `mapstructure:"animation"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	GCP       GCPConfig       `mapstructure:"gcp"`
}

type ServerConfig struct {
	Port       int           `mapstructure:"port"`
	StaticDir  string        `mapstructure:"static_dir"`
	AckTimeout time.Duration `mapstructure:"ack_timeout"`
}

// ModelConfig points at the upstream SVI model service.
type ModelConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	OptionType string        `mapstructure:"option_type"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RateLimit  float64       `mapstructure:"rate_limit"` // requests per second, 0 disables
	RateBurst  int           `mapstructure:"rate_burst"`

	AuthType      string `mapstructure:"auth_type"` // "none", "token" or "jwt"
	APIToken      string `mapstructure:"api_token"`
	APIKeyName    string `mapstructure:"api_key_name"`
	PrivateKeyPEM string `mapstructure:"private_key_pem"`
}

type CacheConfig struct {
	PreloadConcurrency int     `mapstructure:"preload_concurrency"`
	PreloadRate        float64 `mapstructure:"preload_rate"`
}

type AnimationConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	FPS     int     `mapstructure:"fps"`
	Speed   float64 `mapstructure:"speed"`
	Radius  float64 `mapstructure:"radius"`
	Height  float64 `mapstructure:"height"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type GCPConfig struct {
	ProjectID       string              `mapstructure:"project_id"`
	UseSecrets      bool                `mapstructure:"use_secrets"`
	CredentialsFile string              `mapstructure:"credentials_file"`
	SecretNames     secrets.SecretNames `mapstructure:"secret_names"`
}

func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/volsurface")
	}

	// Read environment variables, e.g. VOLSURFACE_MODEL_BASE_URL
	v.SetEnvPrefix("VOLSURFACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Override with environment variables if set
	overrideFromEnv(&config)

	// Load secrets from GCP if enabled
	if config.GCP.UseSecrets && config.GCP.ProjectID != "" {
		ctx := context.Background()
		logger := logrus.New()
		if err := loadSecretsFromGCP(ctx, &config, logger); err != nil {
			return nil, fmt.Errorf("error loading secrets from GCP: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Model.BaseURL == "" {
		return fmt.Errorf("model.base_url is required")
	}
	switch c.Model.AuthType {
	case "none", "":
	case "token":
		if c.Model.APIToken == "" {
			return fmt.Errorf("model.api_token is required for token auth")
		}
	case "jwt":
		if c.Model.APIKeyName == "" || c.Model.PrivateKeyPEM == "" {
			return fmt.Errorf("model.api_key_name and model.private_key_pem are required for jwt auth")
		}
	default:
		return fmt.Errorf("unknown model.auth_type %q", c.Model.AuthType)
	}
	if c.Animation.Enabled && c.Animation.FPS <= 0 {
		return fmt.Errorf("animation.fps must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.static_dir", "")
	v.SetDefault("server.ack_timeout", 5*time.Second)

	// Model defaults
	v.SetDefault("model.base_url", "http://localhost:5000")
	v.SetDefault("model.option_type", "call")
	v.SetDefault("model.timeout", 30*time.Second)
	v.SetDefault("model.rate_limit", 0)
	v.SetDefault("model.rate_burst", 1)
	v.SetDefault("model.auth_type", "none")

	// Cache defaults
	v.SetDefault("cache.preload_concurrency", 0)
	v.SetDefault("cache.preload_rate", 0)

	// Animation defaults
	v.SetDefault("animation.enabled", true)
	v.SetDefault("animation.fps", 30)
	v.SetDefault("animation.speed", 0.25)
	v.SetDefault("animation.radius", 2.0)
	v.SetDefault("animation.height", 0.25)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)

	// GCP defaults
	v.SetDefault("gcp.use_secrets", false)
	v.SetDefault("gcp.project_id", "")
	v.SetDefault("gcp.credentials_file", "")

	// Secret name defaults
	secretNames := secrets.DefaultSecretNames()
	v.SetDefault("gcp.secret_names.model_api_token", secretNames.ModelAPIToken)
	v.SetDefault("gcp.secret_names.model_api_key_name", secretNames.ModelAPIKeyName)
	v.SetDefault("gcp.secret_names.model_private_key", secretNames.ModelPrivateKey)
}

func overrideFromEnv(config *Config) {
	// Model service from environment
	if baseURL := os.Getenv("SVI_MODEL_URL"); baseURL != "" {
		config.Model.BaseURL = baseURL
	}
	if token := os.Getenv("SVI_MODEL_TOKEN"); token != "" {
		config.Model.APIToken = token
		if config.Model.AuthType == "none" || config.Model.AuthType == "" {
			config.Model.AuthType = "token"
		}
	}

	// JWT auth for the model service
	if apiKeyName := os.Getenv("SVI_MODEL_API_KEY_NAME"); apiKeyName != "" {
		config.Model.APIKeyName = apiKeyName
	}
	if privateKey := os.Getenv("SVI_MODEL_PRIVATE_KEY"); privateKey != "" {
		config.Model.PrivateKeyPEM = privateKey
	}

	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	// GCP configuration from environment
	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		config.GCP.ProjectID = projectID
	}
	if useSecrets := os.Getenv("GCP_USE_SECRETS"); useSecrets == "true" {
		config.GCP.UseSecrets = true
	}
	if creds := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); creds != "" && config.GCP.CredentialsFile == "" {
		config.GCP.CredentialsFile = creds
	}
}

func loadSecretsFromGCP(ctx context.Context, config *Config, logger *logrus.Logger) error {
	secretManager, err := secrets.NewGCPSecretManager(ctx, config.GCP.ProjectID, config.GCP.CredentialsFile, logger)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	defer secretManager.Close()

	applySecrets(ctx, config, secretManager)

	logger.Info("Successfully loaded secrets from GCP Secret Manager")
	return nil
}

type secretSource interface {
	GetSecretWithDefault(ctx context.Context, secretName, defaultValue string) string
}

// applySecrets fills model credentials that are not already set. A token switches auth
// from none to token, the same as SVI_MODEL_TOKEN.
func applySecrets(ctx context.Context, config *Config, src secretSource) {
	names := config.GCP.SecretNames

	if config.Model.APIToken == "" && names.ModelAPIToken != "" {
		config.Model.APIToken = src.GetSecretWithDefault(ctx, names.ModelAPIToken, "")
	}
	if config.Model.APIToken != "" && (config.Model.AuthType == "none" || config.Model.AuthType == "") {
		config.Model.AuthType = "token"
	}
	if config.Model.APIKeyName == "" && names.ModelAPIKeyName != "" {
		config.Model.APIKeyName = src.GetSecretWithDefault(ctx, names.ModelAPIKeyName, "")
	}
	if config.Model.PrivateKeyPEM == "" && names.ModelPrivateKey != "" {
		config.Model.PrivateKeyPEM = src.GetSecretWithDefault(ctx, names.ModelPrivateKey, "")
	}
}

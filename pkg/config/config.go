package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

var GlobalConfig *Config

// Config global configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Redis   RedisConfig   `yaml:"redis"`
	MySQL   MySQLConfig   `yaml:"mysql"`
	Queue   QueueConfig   `yaml:"queue"`
	Spawner SpawnerConfig `yaml:"spawner"`
	Billing BillingConfig `yaml:"billing"`
	Usage   UsageConfig   `yaml:"usage"`
	Logger  LoggerConfig  `yaml:"logger"`
}

// ServerConfig HTTP server configuration
type ServerConfig struct {
	Port   int    `yaml:"port"`
	Mode   string `yaml:"mode"`    // debug, release
	APIKey string `yaml:"api_key"` // API key for request authentication (optional, if empty, auth is disabled)
}

// RedisConfig Redis configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MySQLConfig MySQL configuration
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// QueueConfig asynq queue configuration
type QueueConfig struct {
	Concurrency int `yaml:"concurrency"` // queue processing concurrency
	MaxRetry    int `yaml:"max_retry"`   // maximum retry count
	TaskTimeout int `yaml:"task_timeout"` // task timeout (seconds)
}

// SpawnerConfig compute provider configuration
type SpawnerConfig struct {
	Provider string       `yaml:"provider"` // ecs, lambda, k8s, dummy
	ECS      ECSConfig    `yaml:"ecs"`
	Lambda   LambdaConfig `yaml:"lambda"`
	K8s      K8sConfig    `yaml:"k8s"`

	// ResourceDir is the container path workspace project files are mounted at.
	ResourceDir string `yaml:"resource_dir"`
	// PortEndpoints maps an exposed container port to the logical endpoint
	// name routed behind the reverse proxy (e.g. "8888" -> "proxy").
	PortEndpoints map[string]string `yaml:"port_endpoints"`
	// APIVersion is the URL version prefix used when building routing labels.
	APIVersion string `yaml:"api_version"`
}

// ECSConfig ECS provider configuration
type ECSConfig struct {
	Cluster  string `yaml:"cluster"`
	Region   string `yaml:"region"`
	LogGroup string `yaml:"log_group"`
}

// LambdaConfig Lambda provider configuration
type LambdaConfig struct {
	Region string `yaml:"region"`
	Role   string `yaml:"role"` // execution role ARN
}

// K8sConfig K8s provider configuration
type K8sConfig struct {
	Namespace  string `yaml:"namespace"`
	Kubeconfig string `yaml:"kubeconfig"` // empty means in-cluster config
}

// BillingConfig billing provider configuration
type BillingConfig struct {
	BaseURL       string  `yaml:"base_url"` // payment provider API base URL
	APIKey        string  `yaml:"api_key"`
	BucketSizeGB  float64 `yaml:"bucket_size_gb"`  // overage bucket size in GB-hours
	BucketPriceID string  `yaml:"bucket_price_id"` // invoice item price for one bucket
}

// UsageConfig usage reconciliation configuration
type UsageConfig struct {
	Interval          int    `yaml:"interval"`           // reconciliation interval (seconds)
	WarningThresholds string `yaml:"warning_thresholds"` // comma separated percentages, e.g. "75,90,100"
	WebhookURL        string `yaml:"webhook_url"`        // optional notification webhook
}

// LoggerConfig logger configuration
type LoggerConfig struct {
	Level  string           `yaml:"level"`  // debug, info, warn, error
	Output string           `yaml:"output"` // console, file, both
	File   LoggerFileConfig `yaml:"file"`
}

// LoggerFileConfig logger file configuration
type LoggerFileConfig struct {
	Path string `yaml:"path"`
}

// Init initializes configuration
func Init() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return err
	}

	GlobalConfig = &cfg
	return nil
}

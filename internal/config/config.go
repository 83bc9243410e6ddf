package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/armadahq/datacore/internal/models"
)

// EnvPrefix префикс всех переменных окружения Data Core
const EnvPrefix = "DATACORE_"

// Plugin содержит настройки внешнего индекс-плагина (EdgeQuake-style)
type Plugin struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	TenantID      string        `yaml:"tenant_id"`
	CatalogPath   string        `yaml:"catalog_path"`
	Timeout       time.Duration `yaml:"timeout"`
	DrainInterval time.Duration `yaml:"drain_interval"`
	MaxRetries    int           `yaml:"max_retries"`
	DrainBatch    int           `yaml:"drain_batch"`
	Enabled       bool          `yaml:"enabled"`
}

// Config содержит полную конфигурацию узла Data Core.
// Загружается из окружения; YAML файл (DATACORE_CONFIG) задает базовые
// значения, окружение имеет приоритет.
type Config struct {
	Role                string        `yaml:"role"` // ship | fleet
	DatabaseDSN         string        `yaml:"database_dsn"`
	ClusterID           string        `yaml:"cluster_id"`
	ClusterSecret       string        `yaml:"cluster_secret"`
	CoreID              string        `yaml:"core_id"`
	ShipDeploymentID    string        `yaml:"ship_deployment_id"`
	FleetHubURL         string        `yaml:"fleet_hub_url"`
	AdvertiseURL        string        `yaml:"advertise_url"`
	ListenAddr          string        `yaml:"listen_addr"`
	LogLevel            string        `yaml:"log_level"`
	SyncInterval        time.Duration `yaml:"sync_interval"`
	SyncTimeout         time.Duration `yaml:"sync_timeout"`
	MergeInterval       time.Duration `yaml:"merge_interval"`
	Plugin              Plugin        `yaml:"plugin"`
	MaxSyncBatch        int           `yaml:"max_sync_batch"`
	QueryCandidateLimit int           `yaml:"query_candidate_limit"`
	QueryTopKDefault    int           `yaml:"query_top_k_default"`
	AutoMigrate         bool          `yaml:"auto_migrate"`
	MergeWorkerEnabled  bool          `yaml:"merge_worker_enabled"`
}

// defaults возвращает конфигурацию со значениями по умолчанию
func defaults() Config {
	return Config{
		ListenAddr:          ":8080",
		LogLevel:            "info",
		AutoMigrate:         true,
		MaxSyncBatch:        256,
		SyncInterval:        15 * time.Second,
		SyncTimeout:         10 * time.Second,
		QueryCandidateLimit: 2000,
		QueryTopKDefault:    8,
		MergeWorkerEnabled:  true,
		MergeInterval:       10 * time.Second,
		Plugin: Plugin{
			CatalogPath:   "plugin-catalog.db",
			Timeout:       10 * time.Second,
			MaxRetries:    10,
			DrainBatch:    32,
			DrainInterval: 5 * time.Second,
		},
	}
}

// Load читает конфигурацию из YAML файла (если задан) и окружения,
// затем валидирует. Возвращает ошибку при отсутствии обязательных значений.
func Load() (*Config, error) {
	cfg := defaults()

	// Базовый YAML файл опционален
	if path := os.Getenv(EnvPrefix + "CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Окружение перекрывает файл
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	// CoreID по умолчанию производится из cluster id + deployment id,
	// чтобы переразвертывание того же корабля сохраняло идентичность
	if cfg.CoreID == "" {
		seed := cfg.ClusterID + "/" + cfg.ShipDeploymentID
		cfg.CoreID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(seed)).String()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnv перекрывает значения из переменных окружения
func (c *Config) applyEnv() error {
	setString(&c.Role, "ROLE")
	setString(&c.DatabaseDSN, "DATABASE_DSN")
	setString(&c.ClusterID, "CLUSTER_ID")
	setString(&c.ClusterSecret, "CLUSTER_SECRET")
	setString(&c.CoreID, "CORE_ID")
	setString(&c.ShipDeploymentID, "SHIP_DEPLOYMENT_ID")
	setString(&c.FleetHubURL, "FLEET_HUB_URL")
	setString(&c.AdvertiseURL, "ADVERTISE_URL")
	setString(&c.ListenAddr, "LISTEN_ADDR")
	setString(&c.LogLevel, "LOG_LEVEL")

	var err error
	if err = setBool(&c.AutoMigrate, "AUTO_MIGRATE"); err != nil {
		return err
	}
	if err = setInt(&c.MaxSyncBatch, "MAX_SYNC_BATCH"); err != nil {
		return err
	}
	if err = setDuration(&c.SyncTimeout, "SYNC_TIMEOUT"); err != nil {
		return err
	}
	if err = setDuration(&c.SyncInterval, "SYNC_INTERVAL"); err != nil {
		return err
	}
	if err = setInt(&c.QueryCandidateLimit, "QUERY_CANDIDATE_LIMIT"); err != nil {
		return err
	}
	if err = setInt(&c.QueryTopKDefault, "QUERY_TOP_K_DEFAULT"); err != nil {
		return err
	}
	if err = setBool(&c.MergeWorkerEnabled, "MERGE_WORKER_ENABLED"); err != nil {
		return err
	}
	if err = setDuration(&c.MergeInterval, "MERGE_INTERVAL"); err != nil {
		return err
	}

	if err = setBool(&c.Plugin.Enabled, "PLUGIN_ENABLED"); err != nil {
		return err
	}
	setString(&c.Plugin.BaseURL, "PLUGIN_BASE_URL")
	setString(&c.Plugin.APIKey, "PLUGIN_API_KEY")
	setString(&c.Plugin.TenantID, "PLUGIN_TENANT_ID")
	setString(&c.Plugin.CatalogPath, "PLUGIN_CATALOG_PATH")
	if err = setDuration(&c.Plugin.Timeout, "PLUGIN_TIMEOUT"); err != nil {
		return err
	}
	if err = setInt(&c.Plugin.MaxRetries, "PLUGIN_MAX_RETRIES"); err != nil {
		return err
	}
	if err = setInt(&c.Plugin.DrainBatch, "PLUGIN_DRAIN_BATCH"); err != nil {
		return err
	}
	if err = setDuration(&c.Plugin.DrainInterval, "PLUGIN_DRAIN_INTERVAL"); err != nil {
		return err
	}

	return nil
}

// Validate проверяет обязательные значения и согласованность конфигурации
func (c *Config) Validate() error {
	if c.Role != models.RoleShip && c.Role != models.RoleFleet {
		return fmt.Errorf("role must be %q or %q, got %q", models.RoleShip, models.RoleFleet, c.Role)
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	if c.ClusterID == "" {
		return fmt.Errorf("cluster id is required")
	}
	if c.ClusterSecret == "" {
		return fmt.Errorf("cluster secret is required")
	}
	if c.Role == models.RoleShip && c.FleetHubURL == "" {
		return fmt.Errorf("fleet hub url is required for ship role")
	}
	if c.MaxSyncBatch <= 0 {
		return fmt.Errorf("max sync batch must be positive")
	}
	if c.QueryCandidateLimit <= 0 {
		return fmt.Errorf("query candidate limit must be positive")
	}
	if c.QueryTopKDefault <= 0 {
		return fmt.Errorf("query top k default must be positive")
	}
	if c.Plugin.Enabled {
		if c.Plugin.BaseURL == "" {
			return fmt.Errorf("plugin base url is required when plugin is enabled")
		}
		if c.Plugin.APIKey == "" {
			return fmt.Errorf("plugin api key is required when plugin is enabled")
		}
		if c.Plugin.MaxRetries <= 0 {
			return fmt.Errorf("plugin max retries must be positive")
		}
	}
	return nil
}

func setString(dst *string, name string) {
	if v, ok := os.LookupEnv(EnvPrefix + name); ok {
		*dst = v
	}
}

func setBool(dst *bool, name string) error {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok {
		return nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
	}
	*dst = parsed
	return nil
}

func setInt(dst *int, name string) error {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok {
		return nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
	}
	*dst = parsed
	return nil
}

func setDuration(dst *time.Duration, name string) error {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok {
		return nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
	}
	*dst = parsed
	return nil
}

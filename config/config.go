package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del motor de optimización.
type Config struct {
	Pool       PoolConfig       `yaml:"pool"`
	Cache      CacheConfig      `yaml:"cache"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	Experiment ExperimentConfig `yaml:"experiment"`
	ML         MLConfig         `yaml:"ml"`
	Storage    StorageConfig    `yaml:"storage"`
	Log        LogConfig        `yaml:"log"`
}

// PoolConfig dimensiona el worker pool.
type PoolConfig struct {
	MinThreads    int `yaml:"min_threads"`
	MaxThreads    int `yaml:"max_threads"`
	MaxQueue      int `yaml:"max_queue"`
	IdleTimeoutMs int `yaml:"idle_timeout_ms"` // deadline por defecto de cada tarea
}

// CacheConfig controla la caché de fingerprints.
type CacheConfig struct {
	Backend       string `yaml:"backend"` // memory | distributed
	DefaultTTLSec int    `yaml:"default_ttl_sec"`
	KeyPrefix     string `yaml:"key_prefix"`
}

// BreakerConfig controla el circuit breaker de dependencias externas.
type BreakerConfig struct {
	TimeoutMs         int     `yaml:"timeout_ms"`
	ErrorThresholdPct float64 `yaml:"error_threshold_pct"`
	ResetTimeoutMs    int     `yaml:"reset_timeout_ms"`
	VolumeThreshold   int     `yaml:"volume_threshold"`
}

// ExperimentConfig controla la caché de experimentos activos.
type ExperimentConfig struct {
	TTLMs    int `yaml:"ttl_ms"`
	JitterMs int `yaml:"jitter_ms"`
}

// MLConfig habilita el selector ML y sus umbrales de shadow.
type MLConfig struct {
	Enabled bool         `yaml:"enabled"`
	Shadow  ShadowConfig `yaml:"shadow"`
}

// ShadowConfig son los umbrales de promoción champion/challenger.
type ShadowConfig struct {
	WindowDays     int     `yaml:"window_days"`
	MinImprovement float64 `yaml:"min_improvement"`
	MinDays        int     `yaml:"min_days"`
	MinSamples     int     `yaml:"min_samples"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
// Con path vacío se usan solo env y defaults.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// TaskTimeout devuelve el deadline por tarea como time.Duration.
func (c *Config) TaskTimeout() time.Duration {
	return time.Duration(c.Pool.IdleTimeoutMs) * time.Millisecond
}

// BreakerTimeout devuelve el deadline por llamada envuelta.
func (c *Config) BreakerTimeout() time.Duration {
	return time.Duration(c.Breaker.TimeoutMs) * time.Millisecond
}

// BreakerReset devuelve el tiempo de reset del breaker.
func (c *Config) BreakerReset() time.Duration {
	return time.Duration(c.Breaker.ResetTimeoutMs) * time.Millisecond
}

// ExperimentTTL devuelve el TTL de la caché de experimentos.
func (c *Config) ExperimentTTL() time.Duration {
	return time.Duration(c.Experiment.TTLMs) * time.Millisecond
}

// ExperimentJitter devuelve el jitter de la caché de experimentos.
func (c *Config) ExperimentJitter() time.Duration {
	return time.Duration(c.Experiment.JitterMs) * time.Millisecond
}

// CacheTTL devuelve el TTL por defecto de la caché.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.DefaultTTLSec) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("ML_ENABLED"); v == "true" || v == "1" {
		cfg.ML.Enabled = true
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Pool.MinThreads <= 0 {
		cfg.Pool.MinThreads = 4
	}
	if cfg.Pool.MaxThreads < cfg.Pool.MinThreads {
		cfg.Pool.MaxThreads = 12
	}
	if cfg.Pool.MaxQueue <= 0 {
		cfg.Pool.MaxQueue = 256
	}
	if cfg.Pool.IdleTimeoutMs <= 0 {
		cfg.Pool.IdleTimeoutMs = 60000
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Breaker.TimeoutMs <= 0 {
		cfg.Breaker.TimeoutMs = 30000
	}
	if cfg.Breaker.ErrorThresholdPct <= 0 {
		cfg.Breaker.ErrorThresholdPct = 50
	}
	if cfg.Breaker.ResetTimeoutMs <= 0 {
		cfg.Breaker.ResetTimeoutMs = 10000
	}
	if cfg.Breaker.VolumeThreshold <= 0 {
		cfg.Breaker.VolumeThreshold = 5
	}
	if cfg.Experiment.TTLMs <= 0 {
		cfg.Experiment.TTLMs = 60000
	}
	if cfg.Experiment.JitterMs <= 0 {
		cfg.Experiment.JitterMs = 5000
	}
	if cfg.ML.Shadow.WindowDays <= 0 {
		cfg.ML.Shadow.WindowDays = 7
	}
	if cfg.ML.Shadow.MinImprovement <= 0 {
		cfg.ML.Shadow.MinImprovement = 0.05
	}
	if cfg.ML.Shadow.MinDays <= 0 {
		cfg.ML.Shadow.MinDays = 3
	}
	if cfg.ML.Shadow.MinSamples <= 0 {
		cfg.ML.Shadow.MinSamples = 100
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "opticut.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

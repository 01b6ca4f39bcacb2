// Package config loads frameflow configuration.
//
// Values are resolved in three layers: `default` struct tags, then the YAML
// (or JSON) file, then environment variables named by `env` tags. Derived
// values such as the ncnn processing thread count are filled in last.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Interpolation InterpolationConfig `yaml:"interpolation" json:"interpolation"`
	Engines       EnginesConfig       `yaml:"engines" json:"engines"`
	Encoder       EncoderConfig       `yaml:"encoder" json:"encoder"`
	Database      DatabaseConfig      `yaml:"database" json:"database"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Server        ServerConfig        `yaml:"server" json:"server"`
}

// InterpolationConfig holds the values handed to engines on every pass.
type InterpolationConfig struct {
	NcnnGPUs      string `yaml:"ncnn_gpus" json:"ncnn_gpus" env:"FRAMEFLOW_NCNN_GPUS" default:"0"`
	TorchGPUs     string `yaml:"torch_gpus" json:"torch_gpus" env:"FRAMEFLOW_TORCH_GPUS" default:"0"`
	NcnnThreads   int    `yaml:"ncnn_threads" json:"ncnn_threads" env:"FRAMEFLOW_NCNN_THREADS" default:"0"` // 0 = derive from CPU count
	LoadThreads   int    `yaml:"load_threads" json:"load_threads" env:"FRAMEFLOW_LOAD_THREADS" default:"4"`
	SaveThreads   int    `yaml:"save_threads" json:"save_threads" env:"FRAMEFLOW_SAVE_THREADS" default:"4"`
	JPEGOutput    bool   `yaml:"jpeg_output" json:"jpeg_output" env:"FRAMEFLOW_JPEG_OUTPUT" default:"false"`
	TileSize      int    `yaml:"tile_size" json:"tile_size" env:"FRAMEFLOW_TILE_SIZE" default:"512"`
	FramePadding  int    `yaml:"frame_padding" json:"frame_padding" env:"FRAMEFLOW_FRAME_PADDING" default:"8"`
	CancelOnError bool   `yaml:"cancel_on_error" json:"cancel_on_error" env:"FRAMEFLOW_CANCEL_ON_ERROR" default:"true"`
}

// ThreadSpec returns the ncnn "-j load:proc:save" value.
func (c InterpolationConfig) ThreadSpec() string {
	return fmt.Sprintf("%d:%d:%d", c.LoadThreads, c.NcnnThreads, c.SaveThreads)
}

// OutputExt returns the configured frame extension override, or "" to use
// the engine default.
func (c InterpolationConfig) OutputExt() string {
	if c.JPEGOutput {
		return "jpg"
	}
	return ""
}

// EnginesConfig locates the installed engine packages.
type EnginesConfig struct {
	PackagesDir string `yaml:"packages_dir" json:"packages_dir" env:"FRAMEFLOW_PACKAGES_DIR" default:"./pkgs"`
	PythonPath  string `yaml:"python_path" json:"python_path" env:"FRAMEFLOW_PYTHON" default:"python"`
	LogDir      string `yaml:"log_dir" json:"log_dir" env:"FRAMEFLOW_LOG_DIR" default:"./logs"`
}

// EncoderConfig controls the incremental frame feed.
type EncoderConfig struct {
	Enabled    bool          `yaml:"enabled" json:"enabled" env:"FRAMEFLOW_AUTOENCODE" default:"false"`
	Extensions []string      `yaml:"extensions" json:"extensions" env:"FRAMEFLOW_AUTOENCODE_EXTS" default:"png,jpg"`
	SettleTime time.Duration `yaml:"settle_time" json:"settle_time" env:"FRAMEFLOW_AUTOENCODE_SETTLE" default:"250ms"`
}

// DatabaseConfig selects the checkpoint store.
type DatabaseConfig struct {
	Type       string `yaml:"type" json:"type" env:"DATABASE_TYPE" default:"sqlite"`
	Path       string `yaml:"path" json:"path" env:"FRAMEFLOW_DATABASE_PATH" default:"./data/frameflow.db"`
	URL        string `yaml:"url" json:"url" env:"DATABASE_URL"`
	LogQueries bool   `yaml:"log_queries" json:"log_queries" env:"DB_LOG_QUERIES" default:"false"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"FRAMEFLOW_LOG_LEVEL" default:"info"`
	Format string `yaml:"format" json:"format" env:"FRAMEFLOW_LOG_FORMAT" default:"text"`
	Output string `yaml:"output" json:"output" env:"FRAMEFLOW_LOG_OUTPUT" default:"stderr"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Host string `yaml:"host" json:"host" env:"FRAMEFLOW_HOST" default:"127.0.0.1"`
	Port int    `yaml:"port" json:"port" env:"FRAMEFLOW_PORT" default:"8085"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DefaultConfig returns a configuration populated only from default tags
// and derived values.
func DefaultConfig() *Config {
	cfg := &Config{}
	if err := walkFields(reflect.ValueOf(cfg).Elem(), applyDefault); err != nil {
		// default tags are compile-time constants; a parse failure is a bug
		panic(err)
	}
	applyDerived(cfg)
	return cfg
}

// Load reads path (if it exists), applies environment overrides and
// validates the result. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := walkFields(reflect.ValueOf(cfg).Elem(), applyDefault); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}

	if path != "" && fileExists(path) {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := walkFields(reflect.ValueOf(cfg).Elem(), applyEnv); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	applyDerived(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func Validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Database.Type != "sqlite" && cfg.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", cfg.Database.Type)
	}
	if cfg.Database.Type == "postgres" && cfg.Database.URL == "" {
		return fmt.Errorf("postgres requires database.url")
	}
	if cfg.Interpolation.TileSize < 0 {
		return fmt.Errorf("invalid tile size: %d", cfg.Interpolation.TileSize)
	}
	if cfg.Interpolation.FramePadding < 0 || cfg.Interpolation.FramePadding > 12 {
		return fmt.Errorf("invalid frame padding: %d", cfg.Interpolation.FramePadding)
	}
	if cfg.Interpolation.LoadThreads < 1 || cfg.Interpolation.SaveThreads < 1 {
		return fmt.Errorf("load and save threads must be at least 1")
	}
	return nil
}

// Save writes cfg to path as YAML or JSON depending on the extension.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	default:
		return fmt.Errorf("unsupported config file format: %s", filepath.Ext(path))
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".json":
		return json.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config file format: %s", filepath.Ext(path))
	}
}

func applyDerived(cfg *Config) {
	if cfg.Interpolation.NcnnThreads <= 0 {
		cfg.Interpolation.NcnnThreads = defaultProcThreads()
	}
}

var (
	cpuOnce  sync.Once
	cpuCount int
)

// defaultProcThreads derives the ncnn processing thread count from the
// number of physical cores, clamped to 1..4.
func defaultProcThreads() int {
	cpuOnce.Do(func() {
		n, err := cpu.Counts(false)
		if err != nil || n < 1 {
			n = 1
		}
		cpuCount = n
	})
	return min(max(1, cpuCount/2), 4)
}

type fieldFunc func(field reflect.Value, tag reflect.StructField) error

func walkFields(v reflect.Value, fn fieldFunc) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := walkFields(field, fn); err != nil {
				return err
			}
			continue
		}

		if err := fn(field, fieldType); err != nil {
			return fmt.Errorf("failed to set field %s: %w", fieldType.Name, err)
		}
	}
	return nil
}

func applyDefault(field reflect.Value, sf reflect.StructField) error {
	def, ok := sf.Tag.Lookup("default")
	if !ok || def == "" {
		return nil
	}
	return setFieldValue(field, def)
}

func applyEnv(field reflect.Value, sf reflect.StructField) error {
	name := sf.Tag.Get("env")
	if name == "" {
		return nil
	}
	value, ok := os.LookupEnv(name)
	if !ok || value == "" {
		return nil
	}
	return setFieldValue(field, value)
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(n)
		}
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %v", field.Type())
		}
		values := strings.Split(value, ",")
		for i, v := range values {
			values[i] = strings.TrimSpace(v)
		}
		field.Set(reflect.ValueOf(values))
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

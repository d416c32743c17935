package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"dario.cat/mergo"
)

//go:embed schema.cue
var schemaCUE string

// Config is the configuration of a streamcore node.
type Config struct {
	// DataDir holds one directory per partition. Empty keeps everything in
	// memory.
	DataDir string `json:"dataDir"`

	// PartitionCount is the number of partitions a new cluster starts with.
	PartitionCount int32 `json:"partitionCount"`

	// MaxPartitionCount bounds SCALE_UP requests.
	MaxPartitionCount int32 `json:"maxPartitionCount"`

	Resource      ResourceConfig      `json:"resource"`
	Engine        EngineConfig        `json:"engine"`
	Job           JobConfig           `json:"job"`
	Authorization AuthorizationConfig `json:"authorization"`
	Logging       LoggingConfig       `json:"logging"`
	Metrics       MetricsConfig       `json:"metrics"`
}

// ResourceConfig tunes the resource store.
type ResourceConfig struct {
	// DefaultVersion is returned for resources that have no deployment
	// version.
	DefaultVersion int64 `json:"defaultVersion"`
	CacheCapacity  int   `json:"cacheCapacity"`
}

// EngineConfig tunes command processing.
type EngineConfig struct {
	// MaxRoundRecords bounds the records a single command may produce.
	// Commands over the limit are rejected with PROCESSING_ERROR.
	MaxRoundRecords int `json:"maxRoundRecords"`
}

// JobConfig tunes job creation.
type JobConfig struct {
	DefaultRetries int32 `json:"defaultRetries"`
}

// AuthorizationConfig enables permission checks. When disabled every
// actor may do everything.
type AuthorizationConfig struct {
	Enabled bool    `json:"enabled"`
	Grants  []Grant `json:"grants"`
}

// Grant is one permission of an actor. "*" matches any value.
type Grant struct {
	Actor        string `json:"actor"`
	ResourceType string `json:"resourceType"`
	Permission   string `json:"permission"`
	ResourceID   string `json:"resourceId"`
}

// LoggingConfig selects the log handler.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// Default returns the configuration used for every field a config file
// leaves unset.
func Default() Config {
	return Config{
		PartitionCount:    1,
		MaxPartitionCount: 8,
		Resource: ResourceConfig{
			DefaultVersion: 0,
			CacheCapacity:  1000,
		},
		Engine: EngineConfig{
			MaxRoundRecords: 1024,
		},
		Job: JobConfig{
			DefaultRetries: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr: ":9600",
		},
	}
}

// Error codes of LoadError.
const (
	ErrCodeNotFound   = "E001" // config file missing
	ErrCodeReadFailed = "E002" // config file unreadable
	ErrCodeSyntax     = "E003" // not valid CUE or JSON
	ErrCodeSchema     = "E004" // violates the schema
	ErrCodeDecode     = "E005" // cannot be decoded
	ErrCodeInvalid    = "E006" // fails cross-field validation
)

// LoadError describes why a configuration could not be loaded.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Load reads a CUE or JSON config file. An empty path returns Default().
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Config{}, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("config file not found: %s", path)}
	}
	if err != nil {
		return Config{}, &LoadError{Code: ErrCodeReadFailed, Message: err.Error()}
	}
	return Parse(filepath.Base(path), data)
}

// Parse validates data against the schema and fills unset fields from
// Default(). filename is only used in error positions.
func Parse(filename string, data []byte) (Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("compile config schema: %w", err)
	}

	value := ctx.CompileBytes(data, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return Config{}, cueLoadError(ErrCodeSyntax, err)
	}

	unified := schema.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return Config{}, cueLoadError(ErrCodeSchema, err)
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return Config{}, cueLoadError(ErrCodeDecode, err)
	}
	if err := mergo.Merge(&cfg, Default()); err != nil {
		return Config{}, fmt.Errorf("apply config defaults: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func cueLoadError(code string, err error) *LoadError {
	loadErr := &LoadError{Code: code, Message: err.Error()}
	if errs := cueerrors.Errors(err); len(errs) > 0 {
		loadErr.Message = errs[0].Error()
		loadErr.Pos = errs[0].Position()
	}
	return loadErr
}

// Validate checks constraints that span several fields.
func (c Config) Validate() error {
	if c.PartitionCount < 1 {
		return &LoadError{Code: ErrCodeInvalid, Message: fmt.Sprintf("partitionCount must be at least 1, got %d", c.PartitionCount)}
	}
	if c.PartitionCount > c.MaxPartitionCount {
		return &LoadError{Code: ErrCodeInvalid, Message: fmt.Sprintf(
			"partitionCount %d exceeds maxPartitionCount %d", c.PartitionCount, c.MaxPartitionCount)}
	}
	if _, err := c.Logging.level(); err != nil {
		return &LoadError{Code: ErrCodeInvalid, Message: err.Error()}
	}
	return nil
}

func (l LoggingConfig) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("invalid logging level %q", l.Level)
	}
	return level, nil
}

// NewLogger creates the logger described by the config. verbose forces
// debug level.
func (l LoggingConfig) NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level, err := l.level()
	if err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Package config loads client settings from a YAML file, an optional .env
// file and CLOCKSYNC_* environment variables, in increasing precedence, and
// validates the result against an embedded CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/clocksync/internal/scan"
)

//go:embed schema.cue
var schemaSource string

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CLOCKSYNC_"

// DefaultFile is read when no explicit path is given and it exists.
const DefaultFile = "clocksync.yaml"

// Config holds the client settings.
type Config struct {
	APIURL         string        `yaml:"api_url"`
	Token          string        `yaml:"token"`
	TokenFile      string        `yaml:"token_file"`
	DBPath         string        `yaml:"db_path"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
	GeoTimeout     time.Duration `yaml:"geo_timeout"`
	Location       *Location     `yaml:"location"`
	LogLevel       string        `yaml:"log_level"`
}

// Location is a fixed kiosk position.
type Location struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// ScanLocation converts to the capture type. Nil stays nil.
func (l *Location) ScanLocation() *scan.Location {
	if l == nil {
		return nil
	}
	return &scan.Location{Latitude: l.Latitude, Longitude: l.Longitude}
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		APIURL:         "http://localhost:8080",
		DBPath:         "clocksync.db",
		RequestTimeout: 15 * time.Second,
		ProbeInterval:  10 * time.Second,
		GeoTimeout:     5 * time.Second,
		LogLevel:       "info",
	}
}

// SlogLevel maps LogLevel onto slog.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Loader reads configuration. The zero value reads the real environment and
// ".env" in the working directory.
type Loader struct {
	// EnvFile is the dotenv file to read; "" means ".env". A missing file is
	// not an error.
	EnvFile string
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Load reads configuration with the default Loader.
func Load(path string) (Config, error) {
	return Loader{}.Load(path)
}

// Load builds a Config from defaults, the YAML file at path, the dotenv file
// and the environment, then validates it. An empty path reads DefaultFile
// when present.
func (l Loader) Load(path string) (Config, error) {
	cfg := Default()

	if err := l.readFile(path, &cfg); err != nil {
		return Config{}, err
	}

	dotenv, err := l.readDotenv()
	if err != nil {
		return Config{}, err
	}
	lookup := func(name string) (string, bool) {
		if l.LookupEnv != nil {
			if v, ok := l.LookupEnv(name); ok {
				return v, true
			}
		} else if v, ok := os.LookupEnv(name); ok {
			return v, true
		}
		v, ok := dotenv[name]
		return v, ok
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (l Loader) readFile(path string, cfg *Config) error {
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	f, err := os.Open(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (l Loader) readDotenv() (map[string]string, error) {
	path := l.EnvFile
	if path == "" {
		path = ".env"
	}
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return values, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"API_URL":    &cfg.APIURL,
		"TOKEN":      &cfg.Token,
		"TOKEN_FILE": &cfg.TokenFile,
		"DB_PATH":    &cfg.DBPath,
		"LOG_LEVEL":  &cfg.LogLevel,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"REQUEST_TIMEOUT": &cfg.RequestTimeout,
		"PROBE_INTERVAL":  &cfg.ProbeInterval,
		"GEO_TIMEOUT":     &cfg.GeoTimeout,
	}
	for name, dst := range durations {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
	}

	lat, hasLat := lookup(EnvPrefix + "LATITUDE")
	lon, hasLon := lookup(EnvPrefix + "LONGITUDE")
	if hasLat != hasLon {
		return fmt.Errorf("config: %sLATITUDE and %sLONGITUDE must be set together", EnvPrefix, EnvPrefix)
	}
	if hasLat {
		var loc Location
		var err error
		if loc.Latitude, err = strconv.ParseFloat(strings.TrimSpace(lat), 64); err != nil {
			return fmt.Errorf("config: %sLATITUDE: %w", EnvPrefix, err)
		}
		if loc.Longitude, err = strconv.ParseFloat(strings.TrimSpace(lon), 64); err != nil {
			return fmt.Errorf("config: %sLONGITUDE: %w", EnvPrefix, err)
		}
		cfg.Location = &loc
	}
	return nil
}

// ValidationError lists schema violations.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "config: invalid: " + strings.Join(e.Problems, "; ")
}

// Validate checks cfg against the embedded schema.
func Validate(cfg Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config: schema: %w", err)
	}

	doc := map[string]any{
		"api_url":         cfg.APIURL,
		"token":           cfg.Token,
		"token_file":      cfg.TokenFile,
		"db_path":         cfg.DBPath,
		"request_timeout": int64(cfg.RequestTimeout),
		"probe_interval":  int64(cfg.ProbeInterval),
		"geo_timeout":     int64(cfg.GeoTimeout),
		"log_level":       cfg.LogLevel,
	}
	if cfg.Location != nil {
		doc["location"] = map[string]any{
			"latitude":  cfg.Location.Latitude,
			"longitude": cfg.Location.Longitude,
		}
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(doc))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return toValidationError(err)
	}
	return nil
}

func toValidationError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &ValidationError{Problems: []string{err.Error()}}
	}
	problems := make([]string, 0, len(errs))
	for _, e := range errs {
		problems = append(problems, strings.TrimSpace(cueerrors.Details(e, nil)))
	}
	return &ValidationError{Problems: problems}
}

// Package config builds the run configuration: where the input artifacts
// are, where outputs go, and how the registry and the converter are
// reached. A Config is built once at start and passed to every component.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	certerrors "certgen/internal/errors"
)

// Defaults for the production registry.
const (
	DefaultEndpoint     = "https://service.hubject.com/api/oicp/evsepull/v22/providers/DE*ICE/data-records"
	DefaultProviderID   = "DE*ICE"
	DefaultGeoFormat    = "Google"
	DefaultOutputSubdir = "output_files"
	DefaultSkipRecords  = 1
	DefaultAddr         = ":9595"
	ConfigName          = "certgen"
	EnvPrefix           = "CERTGEN"
)

// DefaultCountryCodes are the countries queried from the registry.
var DefaultCountryCodes = []string{"FRA"}

// Config holds one run's configuration.
type Config struct {
	InputDir  string `mapstructure:"input_dir" validate:"required"`
	OutputDir string `mapstructure:"output_dir" validate:"required"`
	Sheet     string `mapstructure:"sheet"`

	// SkipRecords drops the first records of the sheet. The beneficiary export
	// carried a duplicate header as its first data row, hence the default 1.
	SkipRecords int `mapstructure:"skip_records" validate:"gte=0"`

	Registry RegistryConfig `mapstructure:"registry"`
	Render   RenderConfig   `mapstructure:"render"`
	Report   ReportConfig   `mapstructure:"report"`
	Serve    ServeConfig    `mapstructure:"serve"`

	ConfigFile string `mapstructure:"-"`
}

type RegistryConfig struct {
	Endpoint           string        `mapstructure:"endpoint" validate:"required,url"`
	ProviderID         string        `mapstructure:"provider_id" validate:"required"`
	CountryCodes       []string      `mapstructure:"country_codes" validate:"required,min=1,dive,required"`
	GeoFormat          string        `mapstructure:"geo_format" validate:"required"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	Timeout            time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

type RenderConfig struct {
	Binary string `mapstructure:"binary" validate:"required"`
	Format string `mapstructure:"format" validate:"required"`
}

type ReportConfig struct {
	Format string `mapstructure:"format" validate:"oneof=csv xlsx"`
}

type ServeConfig struct {
	Addr     string `mapstructure:"addr" validate:"required"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password" validate:"required_with=Username"`
}

// Overrides are command-line values; non-empty fields win over every
// other source.
type Overrides struct {
	ConfigFile  string
	InputDir    string
	OutputDir   string
	SkipRecords *int
	Addr        string
}

// Load reads configuration from, lowest to highest precedence: defaults,
// certgen.yaml (in the input directory, or --config), .env files,
// CERTGEN_* environment variables, then overrides.
func Load(o Overrides) (*Config, error) {
	inputDir := o.InputDir
	if inputDir == "" {
		inputDir = os.Getenv(EnvPrefix + "_INPUT_DIR")
	}
	if inputDir == "" {
		inputDir = defaultInputDir()
	}
	inputDir, err := filepath.Abs(inputDir)
	if err != nil {
		return nil, fmt.Errorf("resolving input directory: %w", err)
	}

	loadEnvFiles(inputDir)

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if o.ConfigFile != "" {
		v.SetConfigFile(o.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, certerrors.NewConfigurationError("reading %s: %v", o.ConfigFile, err)
		}
	} else {
		v.AddConfigPath(inputDir)
		v.SetConfigName(ConfigName)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, certerrors.NewConfigurationError("reading config: %v", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, certerrors.NewConfigurationError("decoding config: %v", err)
	}
	cfg.ConfigFile = v.ConfigFileUsed()
	cfg.InputDir = inputDir

	if o.OutputDir != "" {
		cfg.OutputDir = o.OutputDir
	}
	if o.SkipRecords != nil {
		cfg.SkipRecords = *o.SkipRecords
	}
	if o.Addr != "" {
		cfg.Serve.Addr = o.Addr
	}
	if !filepath.IsAbs(cfg.OutputDir) {
		cfg.OutputDir = filepath.Join(inputDir, cfg.OutputDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("output_dir", DefaultOutputSubdir)
	v.SetDefault("sheet", "")
	v.SetDefault("skip_records", DefaultSkipRecords)

	v.SetDefault("registry.endpoint", DefaultEndpoint)
	v.SetDefault("registry.provider_id", DefaultProviderID)
	v.SetDefault("registry.country_codes", DefaultCountryCodes)
	v.SetDefault("registry.geo_format", DefaultGeoFormat)
	v.SetDefault("registry.insecure_skip_verify", false)
	v.SetDefault("registry.timeout", "5m")

	v.SetDefault("render.binary", "soffice")
	v.SetDefault("render.format", "pdf")

	v.SetDefault("report.format", "csv")

	v.SetDefault("serve.addr", DefaultAddr)
	v.SetDefault("serve.username", "")
	v.SetDefault("serve.password", "")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and reports them as a ConfigurationError.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return certerrors.NewConfigurationError("%v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
	}
	return certerrors.NewConfigurationError("invalid settings: %s", strings.Join(msgs, ", "))
}

// loadEnvFiles loads .env.local then .env from the working and input
// directories. Variables already set are not overwritten, so .env.local
// wins over .env.
func loadEnvFiles(inputDir string) {
	for _, dir := range []string{".", inputDir} {
		for _, name := range []string{".env.local", ".env"} {
			_ = godotenv.Load(filepath.Join(dir, name))
		}
	}
}

// defaultInputDir is the directory holding the executable, where the
// input files are expected to be dropped.
func defaultInputDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}

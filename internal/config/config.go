// Package config loads patchwatch configuration.
//
// # Configuration Sources
//
// Configuration is loaded from (in order of precedence):
// 1. Command-line flags
// 2. Environment variables (PATCHWATCH_*, dots become underscores)
// 3. Config file (YAML, default ./patchwatch.yaml)
// 4. Defaults
//
// # Example Config File
//
//	accounts_file: accounts.csv
//	shared_account:
//	  account_id: "222222222222"
//	  role_name: PatchReportRole
//	  region: us-east-1
//	report:
//	  bucket: patch-reports
//	  store: s3
//	email:
//	  enabled: true
//	  from: patching@example.com
//	  to: [ops@example.com]
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/patchwatch/patchwatch/internal/core"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile       = "patchwatch.yaml"
	EnvPrefix               = "PATCHWATCH"
	DefaultPrePatchKey      = "pre_patch_notification/mw-running-today-output.csv"
	DefaultPostPatchKey     = "post_patch_notification/mw-post-patch-output.csv"
	DefaultWindowNamePrefix = "mmpatching"
	DefaultRoleSessionName  = "MWCheckSession"
	DefaultLogLevel         = "info"
)

// Store backends.
const (
	StoreS3    = "s3"
	StoreLocal = "local"
)

// Config is the complete patchwatch configuration.
type Config struct {
	AccountsFile      string        `mapstructure:"accounts_file" yaml:"accounts_file"`
	SharedAccount     SharedAccount `mapstructure:"shared_account" yaml:"shared_account"`
	SharedAccountFile string        `mapstructure:"shared_account_file" yaml:"shared_account_file,omitempty"`
	Report            ReportConfig  `mapstructure:"report" yaml:"report"`
	Email             EmailConfig   `mapstructure:"email" yaml:"email"`
	WindowNamePrefix  string        `mapstructure:"window_name_prefix" yaml:"window_name_prefix"`
	RoleSessionName   string        `mapstructure:"role_session_name" yaml:"role_session_name"`
	Concurrency       int           `mapstructure:"concurrency" yaml:"concurrency"`
	RatePerSecond     float64       `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	Scope             core.Scope    `mapstructure:"scope" yaml:"scope"`
	Log               LogConfig     `mapstructure:"log" yaml:"log"`
	LedgerPath        string        `mapstructure:"ledger_path" yaml:"ledger_path"`
	PostPatchDelay    time.Duration `mapstructure:"post_patch_delay" yaml:"post_patch_delay"`
}

// SharedAccount is the account holding the report bucket and the SES identity.
type SharedAccount struct {
	AccountID string `mapstructure:"account_id" yaml:"account_id"`
	RoleName  string `mapstructure:"role_name" yaml:"role_name"`
	Region    string `mapstructure:"region" yaml:"region"`
}

// Context returns the shared account as an AccountContext.
func (s SharedAccount) Context() core.AccountContext {
	return core.AccountContext{AccountID: s.AccountID, RoleName: s.RoleName, Region: s.Region}
}

// IsZero reports whether no field of the shared account is set.
func (s SharedAccount) IsZero() bool {
	return s.AccountID == "" && s.RoleName == "" && s.Region == ""
}

// ReportConfig locates the pre/post-patch report objects.
type ReportConfig struct {
	Bucket       string `mapstructure:"bucket" yaml:"bucket"`
	PrePatchKey  string `mapstructure:"pre_patch_key" yaml:"pre_patch_key"`
	PostPatchKey string `mapstructure:"post_patch_key" yaml:"post_patch_key"`
	Store        string `mapstructure:"store" yaml:"store"`         // s3 | local
	LocalDir     string `mapstructure:"local_dir" yaml:"local_dir"` // used when store is local
}

// EmailConfig controls the SES notification.
type EmailConfig struct {
	Enabled bool     `mapstructure:"enabled" yaml:"enabled"`
	From    string   `mapstructure:"from" yaml:"from"`
	To      []string `mapstructure:"to" yaml:"to"`
	Region  string   `mapstructure:"region" yaml:"region"` // defaults to the shared account region
}

// LogConfig controls console verbosity and the per-run log directory.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	Dir   string `mapstructure:"dir" yaml:"dir"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		AccountsFile: "accounts.csv",
		Report: ReportConfig{
			PrePatchKey:  DefaultPrePatchKey,
			PostPatchKey: DefaultPostPatchKey,
			Store:        StoreS3,
			LocalDir:     "reports",
		},
		Email: EmailConfig{
			Enabled: true,
		},
		WindowNamePrefix: DefaultWindowNamePrefix,
		RoleSessionName:  DefaultRoleSessionName,
		Concurrency:      1,
		RatePerSecond:    10,
		Log: LogConfig{
			Level: DefaultLogLevel,
			Dir:   "logs",
		},
		LedgerPath: "patchwatch.db",
	}
}

// SetDefaults registers every default on v so env and flag overrides resolve
// against known keys.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("accounts_file", d.AccountsFile)
	v.SetDefault("shared_account.account_id", "")
	v.SetDefault("shared_account.role_name", "")
	v.SetDefault("shared_account.region", "")
	v.SetDefault("shared_account_file", "")
	v.SetDefault("report.bucket", "")
	v.SetDefault("report.pre_patch_key", d.Report.PrePatchKey)
	v.SetDefault("report.post_patch_key", d.Report.PostPatchKey)
	v.SetDefault("report.store", d.Report.Store)
	v.SetDefault("report.local_dir", d.Report.LocalDir)
	v.SetDefault("email.enabled", d.Email.Enabled)
	v.SetDefault("email.from", "")
	v.SetDefault("email.to", []string{})
	v.SetDefault("email.region", "")
	v.SetDefault("window_name_prefix", d.WindowNamePrefix)
	v.SetDefault("role_session_name", d.RoleSessionName)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("rate_per_second", d.RatePerSecond)
	v.SetDefault("scope.account_ids", []string{})
	v.SetDefault("scope.regions", []string{})
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.dir", d.Log.Dir)
	v.SetDefault("ledger_path", d.LedgerPath)
	v.SetDefault("post_patch_delay", d.PostPatchDelay)
}

// Load resolves configuration through v and validates it. An explicit path
// must exist; the default file is optional.
func Load(v *viper.Viper, path string) (Config, error) {
	cfg, err := Read(v, path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read resolves configuration like Load but skips validation, for commands
// that only need the ledger or log settings.
func Read(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !(errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.Email.Region == "" {
		c.Email.Region = c.SharedAccount.Region
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

// Validate checks settings that cannot be fixed by defaulting.
func (c Config) Validate() error {
	switch c.Report.Store {
	case StoreS3:
		if c.Report.Bucket == "" {
			return fmt.Errorf("report.bucket is required when report.store is %q", StoreS3)
		}
	case StoreLocal:
		if c.Report.LocalDir == "" {
			return fmt.Errorf("report.local_dir is required when report.store is %q", StoreLocal)
		}
	default:
		return fmt.Errorf("report.store must be %q or %q, got %q", StoreS3, StoreLocal, c.Report.Store)
	}
	if c.RatePerSecond < 0 {
		return fmt.Errorf("rate_per_second must not be negative")
	}
	if c.PostPatchDelay < 0 {
		return fmt.Errorf("post_patch_delay must not be negative")
	}
	if c.Email.Enabled && (c.Email.From == "" || len(c.Email.To) == 0) {
		return fmt.Errorf("email.from and email.to are required when email.enabled is true")
	}
	return nil
}

const defaultFileHeader = `# patchwatch configuration.
# Every key may be overridden by PATCHWATCH_<KEY> (dots become underscores)
# or by the matching command-line flag.
`

// WriteDefault writes the default configuration to path. It refuses to
// overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if path == "" {
		path = DefaultConfigFile
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("encode default config: %w", err)
	}
	return os.WriteFile(path, append([]byte(defaultFileHeader), data...), 0600)
}

// Marshal renders cfg as YAML, for `config show`.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

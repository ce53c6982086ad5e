package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/stacksnap/snapferry/internal/domain"
)

type Protocol string

const (
	ProtocolFTP  Protocol = "ftp"
	ProtocolSFTP Protocol = "sftp"
	ProtocolS3   Protocol = "s3"
)

type RunnerType string

const (
	RunnerLocal  RunnerType = "local"
	RunnerDocker RunnerType = "docker"
)

// Config is built once in main and handed to every component.
type Config struct {
	Transfer Transfer `koanf:"transfer"`
	Mongo    Mongo    `koanf:"mongo"`
	MySQL    MySQL    `koanf:"mysql"`
	Tools    Tools    `koanf:"tools"`
	Archive  Archive  `koanf:"archive"`
	Log      Log      `koanf:"log"`
}

type Transfer struct {
	Protocol Protocol `koanf:"protocol"`
	Host     string   `koanf:"host"`
	// Port 0 means the protocol default.
	Port          int    `koanf:"port"`
	User          string `koanf:"user"`
	Password      string `koanf:"password"`
	Passive       bool   `koanf:"passive"`
	DestDir       string `koanf:"dest_dir"`
	RetentionDays int    `koanf:"retention_days"`

	KnownHostsFile string `koanf:"known_hosts"`
	S3Region       string `koanf:"s3_region"`
	S3Endpoint     string `koanf:"s3_endpoint"`

	TimeoutSeconds int `koanf:"timeout_seconds"`
	RetryAttempts  int `koanf:"retry_attempts"`
}

type Mongo struct {
	Host     string `koanf:"host"`
	Port     string `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	AuthDB   string `koanf:"auth_db"`
	Drop     bool   `koanf:"drop"`
}

type MySQL struct {
	Host              string `koanf:"host"`
	Port              string `koanf:"port"`
	User              string `koanf:"user"`
	Password          string `koanf:"password"`
	SingleTransaction bool   `koanf:"single_transaction"`
}

type Tools struct {
	Runner     RunnerType `koanf:"runner"`
	MongoImage string     `koanf:"mongo_image"`
	MySQLImage string     `koanf:"mysql_image"`
}

type Archive struct {
	Pigz    bool   `koanf:"pigz"`
	WorkDir string `koanf:"work_dir"`
}

type Log struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func defaultConfig() Config {
	return Config{
		Transfer: Transfer{
			Protocol:       ProtocolFTP,
			Passive:        true,
			DestDir:        "/backups",
			RetentionDays:  7,
			S3Region:       "us-east-1",
			TimeoutSeconds: 30,
			RetryAttempts:  1,
		},
		Mongo: Mongo{
			Host:   "localhost",
			Port:   "27017",
			AuthDB: "admin",
			Drop:   true,
		},
		MySQL: MySQL{
			Host:              "localhost",
			Port:              "3306",
			User:              "root",
			SingleTransaction: true,
		},
		Tools: Tools{
			Runner:     RunnerLocal,
			MongoImage: "mongo:7",
			MySQLImage: "mysql:8",
		},
		Log: Log{
			Level:  "info",
			Format: "console",
		},
	}
}

// envKeys maps the environment variables snapferry reads onto config paths.
var envKeys = map[string]string{
	"FTP_PROTOCOL":            "transfer.protocol",
	"FTP_HOST":                "transfer.host",
	"FTP_PORT":                "transfer.port",
	"FTP_USER":                "transfer.user",
	"FTP_PASSWORD":            "transfer.password",
	"FTP_PASSIVE":             "transfer.passive",
	"FTP_DEST_DIR":            "transfer.dest_dir",
	"RETENTION_DAYS":          "transfer.retention_days",
	"SFTP_KNOWN_HOSTS":        "transfer.known_hosts",
	"S3_REGION":               "transfer.s3_region",
	"S3_ENDPOINT":             "transfer.s3_endpoint",
	"TRANSFER_TIMEOUT":        "transfer.timeout_seconds",
	"TRANSFER_RETRY_ATTEMPTS": "transfer.retry_attempts",

	"MONGO_HOST":     "mongo.host",
	"MONGO_PORT":     "mongo.port",
	"MONGO_USER":     "mongo.user",
	"MONGO_PASSWORD": "mongo.password",
	"MONGO_AUTH_DB":  "mongo.auth_db",
	"MONGO_DROP":     "mongo.drop",

	"MYSQL_HOST":               "mysql.host",
	"MYSQL_PORT":               "mysql.port",
	"MYSQL_USER":               "mysql.user",
	"MYSQL_PASSWORD":           "mysql.password",
	"MYSQL_SINGLE_TRANSACTION": "mysql.single_transaction",

	"TOOLS_RUNNER":      "tools.runner",
	"MONGO_TOOLS_IMAGE": "tools.mongo_image",
	"MYSQL_TOOLS_IMAGE": "tools.mysql_image",

	"ARCHIVE_PIGZ": "archive.pigz",
	"WORK_DIR":     "archive.work_dir",

	"LOG_LEVEL":  "log.level",
	"LOG_FORMAT": "log.format",
}

var boolKeys = map[string]bool{
	"transfer.passive":         true,
	"mongo.drop":               true,
	"mysql.single_transaction": true,
	"archive.pigz":             true,
}

// envValue turns an environment variable into a koanf key/value pair.
// Unknown variables yield an empty key and are skipped by the provider.
func envValue(key, value string) (string, interface{}) {
	path, ok := envKeys[key]
	if !ok {
		return "", nil
	}
	if boolKeys[path] {
		return path, ParseBool(value)
	}
	if path == "transfer.protocol" || path == "tools.runner" {
		return path, strings.ToLower(strings.TrimSpace(value))
	}
	return path, value
}

// ParseBool treats "1", "true" and "yes" (any case) as true and anything else as false.
func ParseBool(v string) bool {
	v = strings.TrimSpace(v)
	return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
}

// FileEnvVar names an optional YAML file, keyed like the koanf tags, that
// sits between the defaults and the environment.
const FileEnvVar = "SNAPFERRY_CONFIG"

// Load builds the configuration: defaults, then the optional file, then the
// process environment.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if path := os.Getenv(FileEnvVar); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, domain.Configuration("load config", fmt.Errorf("config file %s: %w", path, err)).
				WithSuggestion("fix or unset " + FileEnvVar)
		}
	}
	if err := k.Load(env.ProviderWithValue("", ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, domain.Configuration("load config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that are wrong regardless of which command runs.
// Missing transfer credentials are reported later, by Connect.
func (c *Config) Validate() error {
	var errs []error

	switch c.Transfer.Protocol {
	case ProtocolFTP, ProtocolSFTP, ProtocolS3:
	default:
		errs = append(errs, fmt.Errorf("unsupported FTP_PROTOCOL %q", c.Transfer.Protocol))
	}
	if c.Transfer.Port < 0 || c.Transfer.Port > 65535 {
		errs = append(errs, fmt.Errorf("FTP_PORT out of range: %d", c.Transfer.Port))
	}
	if c.Transfer.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("TRANSFER_RETRY_ATTEMPTS must be at least 1, got %d", c.Transfer.RetryAttempts))
	}
	switch c.Tools.Runner {
	case RunnerLocal, RunnerDocker:
	default:
		errs = append(errs, fmt.Errorf("unsupported TOOLS_RUNNER %q", c.Tools.Runner))
	}

	if len(errs) > 0 {
		return domain.Configuration("validate config", errors.Join(errs...))
	}
	return nil
}

// EffectivePort returns the configured port or the protocol default.
func (t Transfer) EffectivePort() int {
	if t.Port != 0 {
		return t.Port
	}
	switch t.Protocol {
	case ProtocolSFTP:
		return 22
	case ProtocolS3:
		return 0
	default:
		return 21
	}
}

// MissingCredentials lists the required credential variables that are empty.
func (t Transfer) MissingCredentials() []string {
	var missing []string
	if t.Host == "" {
		missing = append(missing, "FTP_HOST")
	}
	if t.User == "" {
		missing = append(missing, "FTP_USER")
	}
	if t.Password == "" {
		missing = append(missing, "FTP_PASSWORD")
	}
	return missing
}

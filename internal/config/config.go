package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// StorageConfig points at the S3-compatible blob store holding snapshots.
type StorageConfig struct {
	Endpoint      string        `mapstructure:"endpoint"`
	Region        string        `mapstructure:"region"`
	AccessKey     string        `mapstructure:"access_key"`
	SecretKey     string        `mapstructure:"secret_key"`
	Bucket        string        `mapstructure:"bucket"`
	UseSSL        bool          `mapstructure:"use_ssl"`
	PublicBaseURL string        `mapstructure:"public_base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Retries       int           `mapstructure:"retries"`
}

type DetectionConfig struct {
	Backend       string        `mapstructure:"backend"` // "http" or "none"
	URL           string        `mapstructure:"url"`
	ConfThreshold float64       `mapstructure:"conf_threshold"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type IdentificationConfig struct {
	Mode      string        `mapstructure:"mode"` // ANPR, BARCODE or BOTH
	URL       string        `mapstructure:"url"`
	PlateConf float64       `mapstructure:"plate_conf"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type MaterialConfig struct {
	Backend string        `mapstructure:"backend"` // "http", "deterministic" or "none"
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type PipelineConfig struct {
	IOUThreshold         float64       `mapstructure:"iou_threshold"`
	MaxTrackAge          int           `mapstructure:"max_track_age"`
	EventDebounce        time.Duration `mapstructure:"event_debounce"`
	FrameInterval        time.Duration `mapstructure:"frame_interval"`
	RestartBackoffMin    time.Duration `mapstructure:"restart_backoff_min"`
	RestartBackoffMax    time.Duration `mapstructure:"restart_backoff_max"`
	MaxConsecutiveErrors int           `mapstructure:"max_consecutive_errors"`
	RetentionDays        int           `mapstructure:"retention_days"`
}

type SMTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	From string `mapstructure:"from"`
}

type SMSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	From       string `mapstructure:"from"`
	Endpoint   string `mapstructure:"endpoint"`
}

type PushConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	URLs    []string `mapstructure:"urls"` // default shoutrrr service URLs
}

type NotifyConfig struct {
	Debounce     time.Duration `mapstructure:"debounce"`
	QueueSize    int           `mapstructure:"queue_size"`
	RuleCacheTTL time.Duration `mapstructure:"rule_cache_ttl"`
	SMTP         SMTPConfig    `mapstructure:"smtp"`
	SMS          SMSConfig     `mapstructure:"sms"`
	Push         PushConfig    `mapstructure:"push"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Auth           AuthConfig           `mapstructure:"auth"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Storage        StorageConfig        `mapstructure:"storage"`
	Detection      DetectionConfig      `mapstructure:"detection"`
	Identification IdentificationConfig `mapstructure:"identification"`
	Material       MaterialConfig       `mapstructure:"material"`
	Pipeline       PipelineConfig       `mapstructure:"pipeline"`
	Notify         NotifyConfig         `mapstructure:"notify"`
	Log            LogConfig            `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "gatewatch")
	v.SetDefault("database.name", "gatewatch")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.bucket", "events")
	v.SetDefault("storage.timeout", "5s")
	v.SetDefault("storage.retries", 3)

	v.SetDefault("detection.backend", "http")
	v.SetDefault("detection.conf_threshold", 0.35)
	v.SetDefault("detection.timeout", "2s")

	v.SetDefault("identification.mode", "ANPR")
	v.SetDefault("identification.plate_conf", 0.35)
	v.SetDefault("identification.timeout", "2s")

	v.SetDefault("material.backend", "deterministic")
	v.SetDefault("material.timeout", "2s")

	v.SetDefault("pipeline.iou_threshold", 0.3)
	v.SetDefault("pipeline.max_track_age", 20)
	v.SetDefault("pipeline.event_debounce", "2s")
	v.SetDefault("pipeline.frame_interval", "50ms")
	v.SetDefault("pipeline.restart_backoff_min", "200ms")
	v.SetDefault("pipeline.restart_backoff_max", "1s")
	v.SetDefault("pipeline.max_consecutive_errors", 30)
	v.SetDefault("pipeline.retention_days", 0)

	v.SetDefault("notify.debounce", "5s")
	v.SetDefault("notify.queue_size", 256)
	v.SetDefault("notify.rule_cache_ttl", "30s")
	v.SetDefault("notify.smtp.host", "localhost")
	v.SetDefault("notify.smtp.port", 1025)
	v.SetDefault("notify.smtp.from", "gatewatch@localhost")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Load reads config.yaml from path (or the working directory when empty),
// with GATEWATCH_* environment variables overriding file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("GATEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// defaults plus environment are enough to run
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

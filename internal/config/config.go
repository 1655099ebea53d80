// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/progress-crawler/internal/harvest"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Portal      PortalConfig      `mapstructure:"portal"`
	Extract     ExtractConfig     `mapstructure:"extract"`
	Crawl       CrawlConfig       `mapstructure:"crawl"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Headless    HeadlessConfig    `mapstructure:"headless"`
	Storage     StorageConfig     `mapstructure:"storage"`
	DB          DBConfig          `mapstructure:"db"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// PortalConfig describes the sign-in form and the usage report.
type PortalConfig struct {
	LoginURL            string `mapstructure:"login_url"`
	UsernameField       string `mapstructure:"username_field"`
	PasswordField       string `mapstructure:"password_field"`
	SubmitSelector      string `mapstructure:"submit_selector"`
	LoginReadySelector  string `mapstructure:"login_ready_selector"`
	LoginTimeoutSec     int    `mapstructure:"login_timeout_seconds"`
	ReportURL           string `mapstructure:"report_url"`
	ReportRowsSelector  string `mapstructure:"report_rows_selector"`
	ReportIDSelector    string `mapstructure:"report_id_selector"`
	ReportCountSelector string `mapstructure:"report_count_selector"`
	ReportTimeoutSec    int    `mapstructure:"report_timeout_seconds"`
	IdentityLength      int    `mapstructure:"identity_length"`
}

// ExtractConfig holds the per-page selectors and waits of a subject crawl.
type ExtractConfig struct {
	ProfileReadySelector      string `mapstructure:"profile_ready_selector"`
	ProfileTimeoutSec         int    `mapstructure:"profile_timeout_seconds"`
	CertificateLinkSelector   string `mapstructure:"certificate_link_selector"`
	CertificateListTimeoutSec int    `mapstructure:"certificate_list_timeout_seconds"`
	NameSelector              string `mapstructure:"name_selector"`
	DetailTimeoutSec          int    `mapstructure:"detail_timeout_seconds"`
	CertificateRegionSelector string `mapstructure:"certificate_region_selector"`
	AvatarImageSelector       string `mapstructure:"avatar_image_selector"`
	AvatarMarkupSelector      string `mapstructure:"avatar_markup_selector"`
	AvatarTimeoutSec          int    `mapstructure:"avatar_timeout_seconds"`
}

// CrawlConfig governs one run.
type CrawlConfig struct {
	RosterPath       string `mapstructure:"roster_path"`
	DelaySeconds     int    `mapstructure:"delay_seconds"`
	Full             bool   `mapstructure:"full"`
	InitialStartDate string `mapstructure:"initial_start_date"`
	CheckpointKey    string `mapstructure:"checkpoint_key"`
	ExportPrefix     string `mapstructure:"export_prefix"`
	FirstIndex       int    `mapstructure:"first_index"`
	LastIndex        int    `mapstructure:"last_index"`
	// Timezone is an IANA name; "yesterday" is computed in it.
	Timezone string `mapstructure:"timezone"`
}

// CredentialsConfig carries the portal account. Usually set via environment.
type CredentialsConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// HeadlessConfig configures the browser session.
type HeadlessConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	ViewportWidth  int64  `mapstructure:"viewport_width"`
	ViewportHeight int64  `mapstructure:"viewport_height"`
	NavTimeoutSec  int    `mapstructure:"nav_timeout_seconds"`
	Headful        bool   `mapstructure:"headful"`
}

// StorageConfig selects and configures the artifact store.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls the optional result ledger.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for run notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig configures the optional Pushgateway push and scrape endpoint.
type MetricsConfig struct {
	PushURL string `mapstructure:"push_url"`
	JobName string `mapstructure:"job_name"`
	// ListenAddr serves /metrics for the life of the run when set.
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PROGRESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	login := harvest.DefaultLoginConfig()
	v.SetDefault("portal.login_url", login.URL)
	v.SetDefault("portal.username_field", login.UsernameField)
	v.SetDefault("portal.password_field", login.PasswordField)
	v.SetDefault("portal.submit_selector", login.SubmitSelector)
	v.SetDefault("portal.login_ready_selector", login.ReadySelector)
	v.SetDefault("portal.login_timeout_seconds", 30)
	v.SetDefault("portal.report_url", "https://math.imaginelearning.com/reports/usage?start={start}&end={end}")
	v.SetDefault("portal.report_rows_selector", "table tbody tr")
	v.SetDefault("portal.report_id_selector", "td:nth-child(1)")
	v.SetDefault("portal.report_count_selector", "td:nth-child(2)")
	v.SetDefault("portal.report_timeout_seconds", 30)
	v.SetDefault("portal.identity_length", 8)

	extract := harvest.DefaultExtractConfig()
	v.SetDefault("extract.profile_ready_selector", extract.ProfileReadySelector)
	v.SetDefault("extract.profile_timeout_seconds", 20)
	v.SetDefault("extract.certificate_link_selector", extract.CertificateLinkSelector)
	v.SetDefault("extract.certificate_list_timeout_seconds", 20)
	v.SetDefault("extract.name_selector", extract.NameSelector)
	v.SetDefault("extract.detail_timeout_seconds", 10)
	v.SetDefault("extract.certificate_region_selector", extract.CertificateRegionSelector)
	v.SetDefault("extract.avatar_image_selector", extract.AvatarImageSelector)
	v.SetDefault("extract.avatar_markup_selector", extract.AvatarMarkupSelector)
	v.SetDefault("extract.avatar_timeout_seconds", 10)

	v.SetDefault("crawl.roster_path", "./student-profile-data/student-profile-links.json")
	v.SetDefault("crawl.delay_seconds", 10)
	v.SetDefault("crawl.full", false)
	v.SetDefault("crawl.initial_start_date", "")
	v.SetDefault("crawl.checkpoint_key", harvest.DefaultCheckpointKey)
	v.SetDefault("crawl.export_prefix", "crawl-logs")
	v.SetDefault("crawl.first_index", 0)
	v.SetDefault("crawl.last_index", 0)
	v.SetDefault("crawl.timezone", "")

	// Registered so PROGRESS_CREDENTIALS_* env vars reach Unmarshal.
	v.SetDefault("credentials.username", "")
	v.SetDefault("credentials.password", "")

	v.SetDefault("headless.user_agent", "")
	v.SetDefault("headless.viewport_width", 1280)
	v.SetDefault("headless.viewport_height", 800)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.headful", false)

	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.base_dir", "data")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "")

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "crawl_results")
	v.SetDefault("db.max_conns", 4)

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")

	v.SetDefault("metrics.push_url", "")
	v.SetDefault("metrics.job_name", "progress_crawler")
	v.SetDefault("metrics.listen_addr", "")

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	positive := map[string]int{
		"portal.login_timeout_seconds":            c.Portal.LoginTimeoutSec,
		"portal.report_timeout_seconds":           c.Portal.ReportTimeoutSec,
		"extract.profile_timeout_seconds":         c.Extract.ProfileTimeoutSec,
		"extract.certificate_list_timeout_seconds": c.Extract.CertificateListTimeoutSec,
		"extract.detail_timeout_seconds":          c.Extract.DetailTimeoutSec,
		"extract.avatar_timeout_seconds":          c.Extract.AvatarTimeoutSec,
		"crawl.delay_seconds":                     c.Crawl.DelaySeconds,
		"headless.nav_timeout_seconds":            c.Headless.NavTimeoutSec,
	}
	for key, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be > 0", key)
		}
	}
	if c.Portal.IdentityLength < 1 {
		return fmt.Errorf("portal.identity_length must be >= 1")
	}
	switch c.Storage.Provider {
	case "local", "memory":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.provider is gcs")
		}
	default:
		return fmt.Errorf("storage.provider must be one of local, gcs, memory; got %q", c.Storage.Provider)
	}
	if err := c.Bounds().Validate(); err != nil {
		return fmt.Errorf("crawl index bounds: %w", err)
	}
	if _, err := c.InitialStart(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Location returns the zone that "yesterday" is computed in.
func (c Config) Location() (*time.Location, error) {
	if c.Crawl.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Crawl.Timezone)
	if err != nil {
		return nil, fmt.Errorf("crawl.timezone: %w", err)
	}
	return loc, nil
}

// InitialStart parses crawl.initial_start_date; zero when unset.
func (c Config) InitialStart() (time.Time, error) {
	if strings.TrimSpace(c.Crawl.InitialStartDate) == "" {
		return time.Time{}, nil
	}
	loc, err := c.Location()
	if err != nil {
		return time.Time{}, err
	}
	start, err := harvest.ParseCheckpoint(c.Crawl.InitialStartDate, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("crawl.initial_start_date: %w", err)
	}
	return start, nil
}

// LoginConfig converts the portal section into the sign-in flow settings.
func (c Config) LoginConfig() harvest.LoginConfig {
	return harvest.LoginConfig{
		URL:            c.Portal.LoginURL,
		UsernameField:  c.Portal.UsernameField,
		PasswordField:  c.Portal.PasswordField,
		SubmitSelector: c.Portal.SubmitSelector,
		ReadySelector:  c.Portal.LoginReadySelector,
		Timeout:        seconds(c.Portal.LoginTimeoutSec),
	}
}

// DeltaConfig converts the portal section into usage report settings.
func (c Config) DeltaConfig() harvest.DeltaConfig {
	return harvest.DeltaConfig{
		ReportURL:      c.Portal.ReportURL,
		RowsSelector:   c.Portal.ReportRowsSelector,
		IDSelector:     c.Portal.ReportIDSelector,
		CountSelector:  c.Portal.ReportCountSelector,
		Timeout:        seconds(c.Portal.ReportTimeoutSec),
		IdentityLength: c.Portal.IdentityLength,
	}
}

// ExtractConfig converts the extract section.
func (c Config) ExtractConfig() harvest.ExtractConfig {
	return harvest.ExtractConfig{
		ProfileReadySelector:      c.Extract.ProfileReadySelector,
		ProfileTimeout:            seconds(c.Extract.ProfileTimeoutSec),
		CertificateLinkSelector:   c.Extract.CertificateLinkSelector,
		CertificateListTimeout:    seconds(c.Extract.CertificateListTimeoutSec),
		NameSelector:              c.Extract.NameSelector,
		DetailTimeout:             seconds(c.Extract.DetailTimeoutSec),
		CertificateRegionSelector: c.Extract.CertificateRegionSelector,
		AvatarImageSelector:       c.Extract.AvatarImageSelector,
		AvatarMarkupSelector:      c.Extract.AvatarMarkupSelector,
		AvatarTimeout:             seconds(c.Extract.AvatarTimeoutSec),
	}
}

// CrawlConfig converts the crawl section. Call after Validate.
func (c Config) CrawlConfig() (harvest.CrawlConfig, error) {
	start, err := c.InitialStart()
	if err != nil {
		return harvest.CrawlConfig{}, err
	}
	loc, err := c.Location()
	if err != nil {
		return harvest.CrawlConfig{}, err
	}
	return harvest.CrawlConfig{
		Full:           c.Crawl.Full,
		InitialStart:   start,
		ExportPrefix:   c.Crawl.ExportPrefix,
		IdentityLength: c.Portal.IdentityLength,
		Topic:          c.PubSub.TopicName,
		Location:       loc,
	}, nil
}

// Delay is the cooldown between subject attempts.
func (c Config) Delay() time.Duration {
	return seconds(c.Crawl.DelaySeconds)
}

// NavigationTimeout bounds each browser action.
func (c Config) NavigationTimeout() time.Duration {
	return seconds(c.Headless.NavTimeoutSec)
}

// Bounds returns the configured roster index bounds.
func (c Config) Bounds() harvest.Bounds {
	return harvest.Bounds{First: c.Crawl.FirstIndex, Last: c.Crawl.LastIndex}
}

// CredentialsValue returns the configured portal account.
func (c Config) CredentialsValue() harvest.Credentials {
	return harvest.Credentials{Username: c.Credentials.Username, Password: c.Credentials.Password}
}

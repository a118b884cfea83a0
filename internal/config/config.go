// Package config holds the application's root configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Config is the root configuration structure for the entire application.
type Config struct {
	Logger      LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	AccountsDir string          `mapstructure:"accounts_dir" yaml:"accounts_dir"`
	Messenger   MessengerConfig `mapstructure:"messenger" yaml:"messenger"`
	Browser     BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Timeouts    TimeoutsConfig  `mapstructure:"timeouts" yaml:"timeouts"`
	UI          UIConfig        `mapstructure:"ui" yaml:"ui"`
	Server      ServerConfig    `mapstructure:"server" yaml:"server"`
}

// ColorConfig defines the color settings for different log levels.
// These are used for console output to make logs more readable.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" json:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" json:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" json:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" json:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" json:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" json:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" json:"fatal" yaml:"fatal"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" json:"level" yaml:"level"`
	Format      string      `mapstructure:"format" json:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" json:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" json:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" json:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" json:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" json:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" json:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" json:"colors" yaml:"colors"`
}

// MessengerConfig points the sessions at the web messaging client.
type MessengerConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
	// SelectorVersion picks the UI snapshot from the selector registry ("ru", "en").
	SelectorVersion string `mapstructure:"selector_version" yaml:"selector_version"`
	// SelectorOverrides replaces individual XPath entries of the chosen snapshot.
	SelectorOverrides map[string]string `mapstructure:"selector_overrides" yaml:"selector_overrides,omitempty"`
}

// BrowserConfig holds settings for the automated Chrome instances.
type BrowserConfig struct {
	Headless      bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath      string        `mapstructure:"exec_path" yaml:"exec_path"`
	NoSandbox     bool          `mapstructure:"no_sandbox" yaml:"no_sandbox"`
	Args          []string      `mapstructure:"args" yaml:"args,omitempty"`
	Languages     []string      `mapstructure:"languages" yaml:"languages"`
	WindowWidth   int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight  int           `mapstructure:"window_height" yaml:"window_height"`
	LaunchTimeout time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	Debug         bool          `mapstructure:"debug" yaml:"debug"`
	// HumanizeMouse moves the pointer along a simulated hand path before
	// hovering or clicking. When off the pointer jumps to the element centre.
	HumanizeMouse bool `mapstructure:"humanize_mouse" yaml:"humanize_mouse"`
}

// TimeoutsConfig bounds every blocking step the sessions perform.
type TimeoutsConfig struct {
	LoginMaxWait     time.Duration `mapstructure:"login_max_wait" yaml:"login_max_wait"`
	LoginPoll        time.Duration `mapstructure:"login_poll" yaml:"login_poll"`
	ElementWait      time.Duration `mapstructure:"element_wait" yaml:"element_wait"`
	PollInterval     time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	Liveness         time.Duration `mapstructure:"liveness" yaml:"liveness"`
	CloseChatWait    time.Duration `mapstructure:"close_chat_wait" yaml:"close_chat_wait"`
	ContextMenuWait  time.Duration `mapstructure:"context_menu_wait" yaml:"context_menu_wait"`
	AnchorWait       time.Duration `mapstructure:"anchor_wait" yaml:"anchor_wait"`
	Download         time.Duration `mapstructure:"download" yaml:"download"`
	DownloadPoll     time.Duration `mapstructure:"download_poll" yaml:"download_poll"`
	HarvestBudget    time.Duration `mapstructure:"harvest_budget" yaml:"harvest_budget"`
	ChatOpenAttempts int           `mapstructure:"chat_open_attempts" yaml:"chat_open_attempts"`
	ChatOpenBackoff  time.Duration `mapstructure:"chat_open_backoff" yaml:"chat_open_backoff"`
	Shutdown         time.Duration `mapstructure:"shutdown" yaml:"shutdown"`
}

// UIConfig controls pacing of UI interactions.
type UIConfig struct {
	SettleMin time.Duration `mapstructure:"settle_min" yaml:"settle_min"`
	SettleMax time.Duration `mapstructure:"settle_max" yaml:"settle_max"`
	// KeyDelayMean enables rune-by-rune typing when positive.
	KeyDelayMean time.Duration `mapstructure:"key_delay_mean" yaml:"key_delay_mean"`
	// QRMinBytes is the smallest capture accepted as a real QR code.
	QRMinBytes int `mapstructure:"qr_min_bytes" yaml:"qr_min_bytes"`
}

// ServerConfig holds settings for the HTTP adapter.
type ServerConfig struct {
	Listen       string        `mapstructure:"listen" yaml:"listen"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// NewDefaultConfig returns the configuration used when nothing is overridden.
func NewDefaultConfig() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "console",
			ServiceName: "wabridge",
			MaxSize:     50,
			MaxBackups:  3,
			MaxAge:      28,
			Colors: ColorConfig{
				Debug: "cyan",
				Info:  "green",
				Warn:  "yellow",
				Error: "red",
				Fatal: "magenta",
			},
		},
		AccountsDir: "accounts",
		Messenger: MessengerConfig{
			URL:             "https://web.whatsapp.com/",
			SelectorVersion: "ru",
		},
		Browser: BrowserConfig{
			Languages:     []string{"ru-RU", "ru", "en-US", "en"},
			WindowWidth:   1920,
			WindowHeight:  1080,
			LaunchTimeout: 60 * time.Second,
			HumanizeMouse: true,
		},
		Timeouts: TimeoutsConfig{
			LoginMaxWait:     60 * time.Second,
			LoginPoll:        3 * time.Second,
			ElementWait:      60 * time.Second,
			PollInterval:     500 * time.Millisecond,
			Liveness:         5 * time.Second,
			CloseChatWait:    10 * time.Second,
			ContextMenuWait:  10 * time.Second,
			AnchorWait:       5 * time.Second,
			Download:         20 * time.Second,
			DownloadPoll:     500 * time.Millisecond,
			HarvestBudget:    180 * time.Second,
			ChatOpenAttempts: 3,
			ChatOpenBackoff:  500 * time.Millisecond,
			Shutdown:         10 * time.Second,
		},
		UI: UIConfig{
			SettleMin:  800 * time.Millisecond,
			SettleMax:  1500 * time.Millisecond,
			QRMinBytes: 1000,
		},
		Server: ServerConfig{
			Listen:       ":8000",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
	}
}

// SetDefaults registers every default value with viper so the app can run
// with a minimal config file, or none at all.
func SetDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("logger.level", d.Logger.Level)
	v.SetDefault("logger.format", d.Logger.Format)
	v.SetDefault("logger.service_name", d.Logger.ServiceName)
	v.SetDefault("logger.max_size", d.Logger.MaxSize)
	v.SetDefault("logger.max_backups", d.Logger.MaxBackups)
	v.SetDefault("logger.max_age", d.Logger.MaxAge)
	v.SetDefault("logger.colors.debug", d.Logger.Colors.Debug)
	v.SetDefault("logger.colors.info", d.Logger.Colors.Info)
	v.SetDefault("logger.colors.warn", d.Logger.Colors.Warn)
	v.SetDefault("logger.colors.error", d.Logger.Colors.Error)
	v.SetDefault("logger.colors.fatal", d.Logger.Colors.Fatal)

	v.SetDefault("accounts_dir", d.AccountsDir)

	v.SetDefault("messenger.url", d.Messenger.URL)
	v.SetDefault("messenger.selector_version", d.Messenger.SelectorVersion)

	v.SetDefault("browser.headless", d.Browser.Headless)
	v.SetDefault("browser.languages", d.Browser.Languages)
	v.SetDefault("browser.window_width", d.Browser.WindowWidth)
	v.SetDefault("browser.window_height", d.Browser.WindowHeight)
	v.SetDefault("browser.launch_timeout", d.Browser.LaunchTimeout)
	v.SetDefault("browser.humanize_mouse", d.Browser.HumanizeMouse)

	v.SetDefault("timeouts.login_max_wait", d.Timeouts.LoginMaxWait)
	v.SetDefault("timeouts.login_poll", d.Timeouts.LoginPoll)
	v.SetDefault("timeouts.element_wait", d.Timeouts.ElementWait)
	v.SetDefault("timeouts.poll_interval", d.Timeouts.PollInterval)
	v.SetDefault("timeouts.liveness", d.Timeouts.Liveness)
	v.SetDefault("timeouts.close_chat_wait", d.Timeouts.CloseChatWait)
	v.SetDefault("timeouts.context_menu_wait", d.Timeouts.ContextMenuWait)
	v.SetDefault("timeouts.anchor_wait", d.Timeouts.AnchorWait)
	v.SetDefault("timeouts.download", d.Timeouts.Download)
	v.SetDefault("timeouts.download_poll", d.Timeouts.DownloadPoll)
	v.SetDefault("timeouts.harvest_budget", d.Timeouts.HarvestBudget)
	v.SetDefault("timeouts.chat_open_attempts", d.Timeouts.ChatOpenAttempts)
	v.SetDefault("timeouts.chat_open_backoff", d.Timeouts.ChatOpenBackoff)
	v.SetDefault("timeouts.shutdown", d.Timeouts.Shutdown)

	v.SetDefault("ui.settle_min", d.UI.SettleMin)
	v.SetDefault("ui.settle_max", d.UI.SettleMax)
	v.SetDefault("ui.key_delay_mean", d.UI.KeyDelayMean)
	v.SetDefault("ui.qr_min_bytes", d.UI.QRMinBytes)

	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
}

// Validate checks that required fields are present and every bound is positive.
func (c *Config) Validate() error {
	if c.AccountsDir == "" {
		return errors.New("accounts_dir is a required configuration field")
	}
	if c.Messenger.URL == "" {
		return errors.New("messenger.url is a required configuration field")
	}
	u, err := url.Parse(c.Messenger.URL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("messenger.url %q is not an absolute URL", c.Messenger.URL)
	}
	if c.Messenger.SelectorVersion == "" {
		return errors.New("messenger.selector_version is a required configuration field")
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"browser.launch_timeout", c.Browser.LaunchTimeout},
		{"timeouts.login_max_wait", c.Timeouts.LoginMaxWait},
		{"timeouts.login_poll", c.Timeouts.LoginPoll},
		{"timeouts.element_wait", c.Timeouts.ElementWait},
		{"timeouts.poll_interval", c.Timeouts.PollInterval},
		{"timeouts.liveness", c.Timeouts.Liveness},
		{"timeouts.close_chat_wait", c.Timeouts.CloseChatWait},
		{"timeouts.context_menu_wait", c.Timeouts.ContextMenuWait},
		{"timeouts.anchor_wait", c.Timeouts.AnchorWait},
		{"timeouts.download", c.Timeouts.Download},
		{"timeouts.download_poll", c.Timeouts.DownloadPoll},
		{"timeouts.harvest_budget", c.Timeouts.HarvestBudget},
		{"timeouts.chat_open_backoff", c.Timeouts.ChatOpenBackoff},
		{"timeouts.shutdown", c.Timeouts.Shutdown},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be a positive duration", d.name)
		}
	}

	if c.Timeouts.ChatOpenAttempts <= 0 {
		return errors.New("timeouts.chat_open_attempts must be a positive integer")
	}
	if c.UI.SettleMin < 0 || c.UI.SettleMax < c.UI.SettleMin {
		return errors.New("ui.settle_min must be non-negative and not above ui.settle_max")
	}
	if c.UI.QRMinBytes <= 0 {
		return errors.New("ui.qr_min_bytes must be a positive integer")
	}
	return nil
}

// WriteDefaults renders the default configuration as YAML.
func WriteDefaults(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(NewDefaultConfig()); err != nil {
		return fmt.Errorf("failed to encode default config: %w", err)
	}
	return enc.Close()
}

// Load initializes the configuration singleton from Viper.
func Load(v *viper.Viper) error {
	once.Do(func() {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			loadErr = fmt.Errorf("error unmarshaling config: %w", err)
			return
		}
		if err := cfg.Validate(); err != nil {
			loadErr = fmt.Errorf("invalid configuration: %w", err)
			return
		}
		instance = &cfg
	})
	return loadErr
}

// Get returns the loaded configuration instance.
func Get() *Config {
	if instance == nil {
		panic("Configuration not initialized. Call config.Load() in the root command.")
	}
	return instance
}

// Set stores an already validated configuration as the global instance.
func Set(cfg *Config) {
	once.Do(func() {})
	instance = cfg
}

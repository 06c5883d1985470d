package models

import "time"

// Settings is the full configuration tree, decoded from config.yaml and the environment.
type Settings struct {
	Bot      BotConfig      `mapstructure:"bot"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Download DownloadConfig `mapstructure:"download"`
	Encode   EncodeConfig   `mapstructure:"encode"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Database DatabaseConfig `mapstructure:"database"`
	Progress ProgressConfig `mapstructure:"progress"`
	Health   HealthConfig   `mapstructure:"health"`
	Export   ExportConfig   `mapstructure:"export"`
	Commands CommandsConfig `mapstructure:"commands"`
}

// BotConfig holds the messaging platform settings.
type BotConfig struct {
	Token            string        `mapstructure:"token"`
	OpsChannelID     string        `mapstructure:"opsChannelId"`
	PublishChannelID string        `mapstructure:"publishChannelId"`
	Prefix           string        `mapstructure:"prefix"` // for DM text commands
	AutoDelete       time.Duration `mapstructure:"autoDelete"`
	RequestTimeout   time.Duration `mapstructure:"requestTimeout"`
}

// RetryConfig is the serialized form of a retry policy.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"maxAttempts"`
	BaseDelay   time.Duration `mapstructure:"baseDelay"`
	Multiplier  float64       `mapstructure:"multiplier"`
	MaxDelay    time.Duration `mapstructure:"maxDelay"`
	Jitter      float64       `mapstructure:"jitter"`
}

type FeedConfig struct {
	URL       string        `mapstructure:"url"`
	Format    string        `mapstructure:"format"` // json or rss
	UserAgent string        `mapstructure:"userAgent"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Retry     RetryConfig   `mapstructure:"retry"`
	// OGImage enables the og:image lookup for items without a thumbnail.
	OGImage bool `mapstructure:"ogImage"`
}

type DownloadConfig struct {
	Dir             string        `mapstructure:"dir"`
	DataDir         string        `mapstructure:"dataDir"`
	MetadataTimeout time.Duration `mapstructure:"metadataTimeout"`
	MetadataLog     time.Duration `mapstructure:"metadataLog"`
	PollInterval    time.Duration `mapstructure:"pollInterval"`
	StallTimeout    time.Duration `mapstructure:"stallTimeout"`
	StallFloor      int64         `mapstructure:"stallFloor"` // bytes per second
	MaxNameLength   int           `mapstructure:"maxNameLength"`
	HTTPTimeout     time.Duration `mapstructure:"httpTimeout"`
}

type EncodeConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Remux        bool          `mapstructure:"remux"`
	Dir          string        `mapstructure:"dir"`
	FFmpegPath   string        `mapstructure:"ffmpegPath"`
	FFprobePath  string        `mapstructure:"ffprobePath"`
	VideoCodec   string        `mapstructure:"videoCodec"`
	AudioCodec   string        `mapstructure:"audioCodec"`
	AudioBitrate string        `mapstructure:"audioBitrate"`
	CRF          int           `mapstructure:"crf"`
	Preset       string        `mapstructure:"preset"`
	MaxWidth     int           `mapstructure:"maxWidth"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type UploadConfig struct {
	SplitThreshold int64       `mapstructure:"splitThreshold"`
	TempDir        string      `mapstructure:"tempDir"`
	Retry          RetryConfig `mapstructure:"retry"`
}

type WorkerConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	MaxPerDay      int           `mapstructure:"maxPerDay"`
	LeaseTTL       time.Duration `mapstructure:"leaseTtl"`
	TimeZone       string        `mapstructure:"timeZone"`
	QueueRetention time.Duration `mapstructure:"queueRetention"`
	RunAtStartup   bool          `mapstructure:"runAtStartup"`
}

type DatabaseConfig struct {
	Path       string `mapstructure:"path"`
	StatusFile string `mapstructure:"statusFile"`
}

type ProgressConfig struct {
	MinInterval time.Duration `mapstructure:"minInterval"`
	MinDelta    float64       `mapstructure:"minDelta"`
	Buffer      int           `mapstructure:"buffer"`
}

type HealthConfig struct {
	Address string `mapstructure:"address"`
}

type ExportConfig struct {
	RSSPath string `mapstructure:"rssPath"`
	Title   string `mapstructure:"title"`
	Link    string `mapstructure:"link"`
	Limit   int    `mapstructure:"limit"`
}

// CommandsConfig represents the permission configuration for slash commands.
type CommandsConfig struct {
	Auth AuthConfig `mapstructure:"auth"`
}

// AuthConfig lists who may run privileged commands.
type AuthConfig struct {
	Developers  []string `mapstructure:"developers"`
	AdminsRoles []string `mapstructure:"admins_roles"`
	Guest       []string `mapstructure:"guest"`
}

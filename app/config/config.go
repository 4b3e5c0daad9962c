package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Storage StorageConfig `mapstructure:"storage"`
	Runway  RunwayConfig  `mapstructure:"runway"`
	Hosting HostingConfig `mapstructure:"hosting"`
	Tunnel  TunnelConfig  `mapstructure:"tunnel"`
	Monitor MonitorConfig `mapstructure:"monitor"`
}

type ServerConfig struct {
	Port        string `mapstructure:"port"`
	Debug       bool   `mapstructure:"debug"`
	CORSOrigins string `mapstructure:"cors_origins"` // 逗号分隔，"*" 表示全部放行
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`      // json 或 text
	Output     string `mapstructure:"output"`      // stdout 或 file
	Dir        string `mapstructure:"dir"`         // output=file 时的日志目录
	MaxSize    int    `mapstructure:"max_size"`    // 兆字节
	MaxBackups int    `mapstructure:"max_backups"` // 备份数量
	MaxAge     int    `mapstructure:"max_age"`     // 天数
	Compress   bool   `mapstructure:"compress"`    // 是否压缩旧文件
}

type StorageConfig struct {
	UploadDir   string `mapstructure:"upload_dir"`
	JobsDir     string `mapstructure:"jobs_dir"`
	MaxFileSize int64  `mapstructure:"max_file_size"` // 单个上传文件的字节上限
}

// RunwayConfig Runway Act Two 接口配置
type RunwayConfig struct {
	APIKey              string        `mapstructure:"api_key"`
	BaseURL             string        `mapstructure:"base_url"`
	APIVersion          string        `mapstructure:"api_version"`
	Model               string        `mapstructure:"model"`
	Ratio               string        `mapstructure:"ratio"`
	BodyControl         bool          `mapstructure:"body_control"`
	ExpressionIntensity int           `mapstructure:"expression_intensity"`
	Timeout             time.Duration `mapstructure:"timeout"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	MaxPollAttempts     int           `mapstructure:"max_poll_attempts"`
	DownloadTimeout     time.Duration `mapstructure:"download_timeout"`
}

// HostingConfig 临时文件托管配置
type HostingConfig struct {
	Services      []string      `mapstructure:"services"` // 按优先级排列
	TransferShURL string        `mapstructure:"transfer_sh_url"`
	ZeroXZeroURL  string        `mapstructure:"zero_x_zero_url"`
	FileIOURL     string        `mapstructure:"file_io_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	InlineLimit   int64         `mapstructure:"inline_limit"` // 小于该字节数才允许 data URI 兜底
}

// TunnelConfig 本地隧道（ngrok）配置
type TunnelConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Binary       string        `mapstructure:"binary"`
	APIURL       string        `mapstructure:"api_url"`
	LocalAddr    string        `mapstructure:"local_addr"` // 为空时按 server.port 推导
	PollAttempts int           `mapstructure:"poll_attempts"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type MonitorConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Schedule   string        `mapstructure:"schedule"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// 兼容旧版 .env 中使用的变量名
var legacyEnv = map[string]string{
	"runway.api_key":        "RUNWAY_API_KEY",
	"server.debug":          "DEBUG",
	"server.cors_origins":   "CORS_ORIGINS",
	"storage.max_file_size": "MAX_FILE_SIZE",
	"storage.upload_dir":    "UPLOAD_DIRECTORY",
	"storage.jobs_dir":      "JOBS_DIRECTORY",
}

// Load 从 viper 中解码配置，调用方负责事先完成 ReadInConfig
func Load() (*Config, error) {
	setDefaults()
	bindEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解码配置: %w", err)
	}

	if config.Tunnel.LocalAddr == "" {
		config.Tunnel.LocalAddr = "http://localhost:" + config.Server.Port
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &config, nil
}

// setDefaults 设置默认配置
func setDefaults() {
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.debug", true)
	viper.SetDefault("server.cors_origins", "http://localhost:3000,http://127.0.0.1:3000")

	// 日志默认配置
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.dir", "data/logs")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	viper.SetDefault("storage.upload_dir", "./uploads")
	viper.SetDefault("storage.jobs_dir", "./jobs")
	viper.SetDefault("storage.max_file_size", 16*1024*1024)

	viper.SetDefault("runway.base_url", "https://api.dev.runwayml.com")
	viper.SetDefault("runway.api_version", "2024-11-06")
	viper.SetDefault("runway.model", "act_two")
	viper.SetDefault("runway.ratio", "1280:720")
	viper.SetDefault("runway.body_control", true)
	viper.SetDefault("runway.expression_intensity", 3)
	viper.SetDefault("runway.timeout", "60s")
	viper.SetDefault("runway.poll_interval", "5s")
	viper.SetDefault("runway.max_poll_attempts", 120)
	viper.SetDefault("runway.download_timeout", "120s")

	viper.SetDefault("hosting.services", []string{"transfer.sh", "0x0.st", "file.io"})
	viper.SetDefault("hosting.transfer_sh_url", "https://transfer.sh")
	viper.SetDefault("hosting.zero_x_zero_url", "https://0x0.st")
	viper.SetDefault("hosting.file_io_url", "https://file.io")
	viper.SetDefault("hosting.timeout", "120s")
	viper.SetDefault("hosting.inline_limit", 3*1024*1024)

	viper.SetDefault("tunnel.enabled", true)
	viper.SetDefault("tunnel.binary", "ngrok")
	viper.SetDefault("tunnel.api_url", "http://localhost:4040")
	viper.SetDefault("tunnel.poll_attempts", 10)
	viper.SetDefault("tunnel.poll_interval", "1s")

	viper.SetDefault("monitor.enabled", true)
	viper.SetDefault("monitor.schedule", "@every 10m")
	viper.SetDefault("monitor.stale_after", "30m")
}

func bindEnv() {
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	for key, env := range legacyEnv {
		_ = viper.BindEnv(key, env, strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}
}

// validateConfig 验证配置的有效性
func validateConfig(config *Config) error {
	if config.Server.Port == "" {
		return fmt.Errorf("服务器端口未设置")
	}
	if config.Storage.UploadDir == "" || config.Storage.JobsDir == "" {
		return fmt.Errorf("上传目录和任务目录不能为空")
	}
	if config.Storage.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size 必须大于 0")
	}
	if _, err := url.Parse(config.Runway.BaseURL); err != nil || config.Runway.BaseURL == "" {
		return fmt.Errorf("runway.base_url 无效: %q", config.Runway.BaseURL)
	}
	if config.Runway.MaxPollAttempts <= 0 || config.Runway.PollInterval <= 0 {
		return fmt.Errorf("runway 轮询参数必须大于 0")
	}
	if config.Tunnel.Enabled && config.Tunnel.PollAttempts <= 0 {
		return fmt.Errorf("tunnel.poll_attempts 必须大于 0")
	}
	return nil
}

// AllowedOrigins 解析 CORS 白名单
func (c ServerConfig) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

// LogLevel 在 debug 模式下提升日志级别
func (c *Config) LogLevel() string {
	if c.Server.Debug && c.Log.Level == "info" {
		return "debug"
	}
	return c.Log.Level
}

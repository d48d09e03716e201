package config

// 统一配置加载：全部来自 CLOREBOT_ 前缀的环境变量，默认值写在 tag 上。

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "CLOREBOT"

// Config 保存运行时关键参数。
type Config struct {
	TelegramToken  string  `envconfig:"TELEGRAM_TOKEN" required:"true"`
	InventoryToken string  `envconfig:"INVENTORY_TOKEN" required:"true"`
	InventoryURL   string  `envconfig:"INVENTORY_BASE_URL" default:"https://api.clore.ai"`
	AdminIDs       []int64 `envconfig:"ADMIN_IDS"`

	SSHKeyPath        string        `envconfig:"SSH_KEY_PATH"` // 空则使用 $HOME/.ssh/id_rsa
	SSHUser           string        `envconfig:"SSH_USER" default:"root"`
	SSHConnectTimeout time.Duration `envconfig:"SSH_CONNECT_TIMEOUT" default:"10s"`
	CommandTimeout    time.Duration `envconfig:"COMMAND_TIMEOUT" default:"5m"` // 0 不限制
	HostKeyPolicy     string        `envconfig:"HOST_KEY_POLICY" default:"accept-new"`
	KnownHosts        string        `envconfig:"KNOWN_HOSTS"` // 空则使用 $HOME/.ssh/known_hosts
	MaxParallel       int           `envconfig:"MAX_PARALLEL" default:"8"`

	DataDir              string `envconfig:"DATA_DIR" default:"data"`
	HistoryEnabled       bool   `envconfig:"HISTORY_ENABLED" default:"true"`
	HistoryRetentionDays int    `envconfig:"HISTORY_RETENTION_DAYS" default:"30"`
	HistoryMaxRows       int    `envconfig:"HISTORY_MAX_ROWS" default:"10000"`
	HistoryFlushInterval int    `envconfig:"HISTORY_FLUSH_INTERVAL" default:"2"` // 秒
	HistoryBatchSize     int    `envconfig:"HISTORY_BATCH_SIZE" default:"20"`

	HTTPAddr  string `envconfig:"HTTP_ADDR"`  // 空则不启动 HTTP
	HTTPToken string `envconfig:"HTTP_TOKEN"` // /history 的 Bearer token，空则不开放 /history
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

var (
	once    sync.Once
	global  *Config
	loadErr error
)

// Load 读取全局配置（只初始化一次）。
func Load() (*Config, error) {
	once.Do(func() {
		global, loadErr = Process()
		if loadErr == nil {
			loadErr = os.MkdirAll(global.DataDir, 0o755)
		}
	})
	return global, loadErr
}

// Process 从当前环境解析并校验一份新配置，不做缓存。
func Process() (*Config, error) {
	c := &Config{}
	if err := envconfig.Process(envPrefix, c); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	home, _ := os.UserHomeDir()
	if c.SSHKeyPath == "" {
		c.SSHKeyPath = filepath.Join(home, ".ssh", "id_rsa")
	}
	if c.KnownHosts == "" {
		c.KnownHosts = filepath.Join(home, ".ssh", "known_hosts")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.TelegramToken == "" {
		errs = append(errs, errors.New("telegram token is required"))
	}
	if c.InventoryToken == "" {
		errs = append(errs, errors.New("inventory token is required"))
	}
	switch c.HostKeyPolicy {
	case "accept-new", "known-hosts":
	default:
		errs = append(errs, fmt.Errorf("unknown host key policy %q", c.HostKeyPolicy))
	}
	if c.SSHConnectTimeout <= 0 {
		errs = append(errs, errors.New("ssh connect timeout must be positive"))
	}
	if c.CommandTimeout < 0 {
		errs = append(errs, errors.New("command timeout must not be negative"))
	}
	if c.HistoryFlushInterval <= 0 || c.HistoryBatchSize <= 0 {
		errs = append(errs, errors.New("history flush interval and batch size must be positive"))
	}
	return errors.Join(errs...)
}

// DBPath 返回 sqlite 文件路径。
func (c *Config) DBPath() string { return filepath.Join(c.DataDir, "history.db") }

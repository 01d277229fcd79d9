package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version"`

	Sqlite struct {
		Dsn    string `yaml:"dsn"`
		Prefix string `yaml:"prefix"`
	} `yaml:"sqlite"`

	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
		File   string   `yaml:"file"`
	} `yaml:"log"`

	Intercept struct {
		// ListenerWaitMS 阻塞监听器应答的等待超时（毫秒），0 表示无限等待
		ListenerWaitMS int `yaml:"listenerWaitMS"`
		// EventCapacity 事件通道容量
		EventCapacity int `yaml:"eventCapacity"`
	} `yaml:"intercept"`

	Proxy struct {
		Listen string `yaml:"listen"`
	} `yaml:"proxy"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	cfg := &Config{Version: "1.0.0"}
	cfg.Sqlite.Dsn = "db.sqlite3"
	cfg.Sqlite.Prefix = "reqgate_"
	cfg.Log.Level = "debug"
	cfg.Log.Writer = []string{"console", "file"}
	cfg.Log.File = "reqgate.log"
	cfg.Intercept.ListenerWaitMS = 0
	cfg.Intercept.EventCapacity = 256
	cfg.Proxy.Listen = "127.0.0.1:8080"
	return cfg
}

// Load 从文件加载配置，未设置的字段保留默认值
func Load(path string) (*Config, error) {
	cfg := NewConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type DBConfig struct {
	Driver   string `yaml:"driver"` // postgres | sqlite
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	// Path is the sqlite file (or ":memory:"), ignored for postgres.
	Path string `yaml:"path"`
}

type ConfigSchema struct {
	Databases struct {
		Master   DBConfig   `yaml:"master"`
		Replicas []DBConfig `yaml:"replicas"`
	} `yaml:"db"`
	Redis struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	RabbitMQ struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"rabbitmq"`
	Backend struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"backend"`
	Sessions struct {
		Backend string        `yaml:"backend"` // redis | memory
		TTL     time.Duration `yaml:"ttl"`
	} `yaml:"sessions"`
	MessageLog struct {
		Backend  string `yaml:"backend"` // sql | redis
		PageSize int    `yaml:"page_size"`
	} `yaml:"message_log"`
	WebSocket struct {
		AuthTimeout    time.Duration `yaml:"auth_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		PongTimeout    time.Duration `yaml:"pong_timeout"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		EventTimeout   time.Duration `yaml:"event_timeout"`
		SendBuffer     int           `yaml:"send_buffer"`
		MaxMessageSize int64         `yaml:"max_message_size"`
	} `yaml:"websocket"`
	Uploads struct {
		// Dir holds uploaded attachments; empty disables uploads.
		Dir     string `yaml:"dir"`
		MaxSize int64  `yaml:"max_size"`
	} `yaml:"uploads"`
	Logs struct {
		Level string `yaml:"level"`
	} `yaml:"logs"`
}

var AppConfig *ConfigSchema

// Default returns a configuration suitable for a single local node: sqlite,
// in-memory sessions and no broker.
func Default() *ConfigSchema {
	conf := &ConfigSchema{}
	conf.applyDefaults()
	return conf
}

func LoadConfig(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	conf := &ConfigSchema{}
	if err = yaml.Unmarshal(data, conf); err != nil {
		return fmt.Errorf("parse config %s: %w", filePath, err)
	}
	conf.applyEnv()
	conf.applyDefaults()
	if err = conf.Validate(); err != nil {
		return err
	}
	AppConfig = conf
	return nil
}

func (c *ConfigSchema) applyDefaults() {
	if c.Databases.Master.Driver == "" {
		c.Databases.Master.Driver = "sqlite"
	}
	if c.Databases.Master.Driver == "sqlite" && c.Databases.Master.Path == "" {
		c.Databases.Master.Path = "securechat.db"
	}
	if c.Databases.Master.Driver == "postgres" && c.Databases.Master.Port == 0 {
		c.Databases.Master.Port = 5432
	}
	for i := range c.Databases.Replicas {
		if c.Databases.Replicas[i].Driver == "" {
			c.Databases.Replicas[i].Driver = c.Databases.Master.Driver
		}
		if c.Databases.Replicas[i].Port == 0 {
			c.Databases.Replicas[i].Port = c.Databases.Master.Port
		}
	}
	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "chat_events"
	}
	if c.Backend.Port == 0 {
		c.Backend.Port = 8080
	}
	if c.Sessions.Backend == "" {
		c.Sessions.Backend = "memory"
	}
	if c.Sessions.TTL == 0 {
		c.Sessions.TTL = 24 * time.Hour
	}
	if c.MessageLog.Backend == "" {
		c.MessageLog.Backend = "sql"
	}
	if c.MessageLog.PageSize <= 0 {
		c.MessageLog.PageSize = 100
	}
	ws := &c.WebSocket
	if ws.AuthTimeout == 0 {
		ws.AuthTimeout = 10 * time.Second
	}
	if ws.WriteTimeout == 0 {
		ws.WriteTimeout = 10 * time.Second
	}
	if ws.PongTimeout == 0 {
		ws.PongTimeout = 60 * time.Second
	}
	if ws.PingInterval == 0 || ws.PingInterval >= ws.PongTimeout {
		ws.PingInterval = ws.PongTimeout * 9 / 10
	}
	if ws.EventTimeout == 0 {
		ws.EventTimeout = 5 * time.Second
	}
	if ws.SendBuffer <= 0 {
		ws.SendBuffer = 256
	}
	if ws.MaxMessageSize <= 0 {
		ws.MaxMessageSize = 64 * 1024
	}
	if c.Uploads.MaxSize <= 0 {
		c.Uploads.MaxSize = 10 << 20
	}
	if c.Logs.Level == "" {
		c.Logs.Level = "info"
	}
}

// applyEnv lets deploy-time values override the file.
func (c *ConfigSchema) applyEnv() {
	envString("DB_HOST", &c.Databases.Master.Host)
	envInt("DB_PORT", &c.Databases.Master.Port)
	envString("DB_USER", &c.Databases.Master.User)
	envString("DB_PASSWORD", &c.Databases.Master.Password)
	envString("DB_NAME", &c.Databases.Master.DBName)
	envString("REDIS_HOST", &c.Redis.Host)
	envInt("REDIS_PORT", &c.Redis.Port)
	envString("RABBITMQ_URL", &c.RabbitMQ.URL)
	envString("LOG_LEVEL", &c.Logs.Level)
}

func (c *ConfigSchema) Validate() error {
	switch c.Databases.Master.Driver {
	case "postgres":
		if c.Databases.Master.Host == "" {
			return fmt.Errorf("master database host is missing")
		}
	case "sqlite":
	default:
		return fmt.Errorf("unsupported db driver %q", c.Databases.Master.Driver)
	}
	switch c.Sessions.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("unsupported session backend %q", c.Sessions.Backend)
	}
	switch c.MessageLog.Backend {
	case "sql", "redis":
	default:
		return fmt.Errorf("unsupported message log backend %q", c.MessageLog.Backend)
	}
	return nil
}

func (c *ConfigSchema) NeedsRedis() bool {
	return c.Sessions.Backend == "redis" || c.MessageLog.Backend == "redis"
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

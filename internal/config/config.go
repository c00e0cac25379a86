package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
)

// 不安全的默认值列表 (生产环境不应使用)
var insecureDefaults = map[string]bool{
	"your-secret-key-change-in-production": true,
	"internal-secret":                      true,
	"internal-service-secret":              true,
	"":                                     true,
}

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	JWT            JWTConfig
	Phone          PhoneConfig
	SMS            SMSConfig
	Setup          SetupConfig
	InternalSecret string
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	Schema   string
	SSLMode  string
}

type JWTConfig struct {
	SecretKey string
}

// PhoneConfig holds cloud phone provider settings
type PhoneConfig struct {
	BaseURL      string
	AppID        string
	APIKey       string
	AppPackage   string // target app package name
	AppVersionID string // provider-side app version id for installs
	LoginFlowID  string // custom RPA flow used by number-rental logins
	GroupName    string // default profile group
}

// SMSConfig holds number rental provider settings
type SMSConfig struct {
	BaseURL          string
	APIKey           string
	ServiceCode      string
	MaxActiveRentals int
}

// SetupConfig holds orchestration tunables
type SetupConfig struct {
	BatchConcurrency   int    // activation phase worker pool size
	UsernamePrefix     string // generated usernames for number-rental accounts
	AutomationPassword string // shared password for number-rental logins
}

func Load() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8007"),
			Mode: getEnv("GIN_MODE", "release"), // 默认为 release 模式
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "automation_user"),
			Password: getEnv("DB_PASSWORD", "automation_pass"),
			DBName:   getEnv("DB_NAME", "automation_db"),
			Schema:   getEnv("DB_SCHEMA", "automation"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			SecretKey: getEnv("JWT_SECRET_KEY", ""),
		},
		Phone: PhoneConfig{
			BaseURL:      getEnv("PHONE_API_URL", "https://openapi.geelark.com/open/v1"),
			AppID:        getEnv("PHONE_APP_ID", ""),
			APIKey:       getEnv("PHONE_API_KEY", ""),
			AppPackage:   getEnv("TARGET_APP_PACKAGE", "com.zhiliaoapp.musically"),
			AppVersionID: getEnv("TARGET_APP_VERSION_ID", ""),
			LoginFlowID:  getEnv("LOGIN_FLOW_ID", "568610393463722230"),
			GroupName:    getEnv("PHONE_GROUP_NAME", "automation"),
		},
		SMS: SMSConfig{
			BaseURL:          getEnv("SMS_API_URL", "https://daisysms.com/stubs/handler_api.php"),
			APIKey:           getEnv("SMS_API_KEY", ""),
			ServiceCode:      getEnv("SMS_SERVICE_CODE", "lf"),
			MaxActiveRentals: getEnvInt("SMS_MAX_ACTIVE_RENTALS", 20),
		},
		Setup: SetupConfig{
			BatchConcurrency:   getEnvInt("SETUP_BATCH_CONCURRENCY", 20),
			UsernamePrefix:     getEnv("SETUP_USERNAME_PREFIX", "user"),
			AutomationPassword: getEnv("SETUP_AUTOMATION_PASSWORD", ""),
		},
		InternalSecret: getEnv("INTERNAL_SECRET", ""),
	}

	// 日志脱敏: 不记录敏感配置
	log.Printf("[config] Setup Service loaded: port=%s db=%s/%s.%s phone_api=%s",
		cfg.Server.Port, cfg.Database.Host, cfg.Database.DBName, cfg.Database.Schema, cfg.Phone.BaseURL)

	return cfg
}

// Validate 验证配置有效性，生产环境必须设置安全的密钥
func (c *Config) Validate() error {
	// 检查 JWT 密钥
	if insecureDefaults[c.JWT.SecretKey] {
		return fmt.Errorf("JWT_SECRET_KEY must be set to a secure value (current value is insecure or empty)")
	}
	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 characters long")
	}

	// 检查内部服务密钥
	if insecureDefaults[c.InternalSecret] {
		return fmt.Errorf("INTERNAL_SECRET must be set to a secure value (current value is insecure or empty)")
	}
	if len(c.InternalSecret) < 32 {
		return fmt.Errorf("INTERNAL_SECRET must be at least 32 characters long")
	}

	if c.Phone.AppID == "" || c.Phone.APIKey == "" {
		return fmt.Errorf("PHONE_APP_ID and PHONE_API_KEY must be set")
	}
	if c.SMS.APIKey == "" {
		return fmt.Errorf("SMS_API_KEY must be set")
	}
	if c.Setup.AutomationPassword == "" {
		return fmt.Errorf("SETUP_AUTOMATION_PASSWORD must be set")
	}
	if c.Setup.BatchConcurrency < 1 {
		return fmt.Errorf("SETUP_BATCH_CONCURRENCY must be at least 1")
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + c.Port + "/" + c.DBName + "?sslmode=" + c.SSLMode
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

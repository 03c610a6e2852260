package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server       ServerConfig
	Backend      BackendConfig
	DynamoDB     DynamoDBConfig
	Redis        RedisConfig
	AccessToken  TokenConfig
	RefreshToken TokenConfig
	Phone        PhoneConfig
	Providers    map[string]ProviderConfig
	Notification NotificationConfig
	Avatar       AvatarConfig
	Version      VersionConfig
	PassThrough  PassThroughConfig
	DirectLogin  DirectLoginConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// BackendConfig points at the private API the gateway protects.
type BackendConfig struct {
	BaseURL string
	Timeout time.Duration
}

type DynamoDBConfig struct {
	Endpoint  string
	Region    string
	TableName string
}

type RedisConfig struct {
	Endpoint string
	Password string
	DB       int
}

// TokenConfig holds one token family's keys and lifetime. Access and refresh
// tokens each get their own instance; the two are cryptographically unrelated.
type TokenConfig struct {
	CipherKey string
	SignKey   string
	Expiry    time.Duration
}

type PhoneConfig struct {
	PinSize     int
	MaxAttempts int
	Expiry      time.Duration
	KeyTemplate string
	Endpoints   []PinEndpoint
}

// PinEndpoint marks a protected backend endpoint that requires a verified
// phone. Fields maps canonical names ("phone", "country") to the request
// body fields that carry them.
type PinEndpoint struct {
	Path   string            `json:"path"`
	Method string            `json:"method"`
	Fields map[string]string `json:"fields"`
}

type ProviderConfig struct {
	Name         string
	AuthorizeURL string
	TokenURL     string
	ProfileURL   string
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scope        string
	FailureURL   string
}

type NotificationConfig struct {
	BaseURL string
	Timeout time.Duration
}

type AvatarConfig struct {
	Bucket  string
	Region  string
	BaseURL string
}

type VersionConfig struct {
	Header string
}

type PassThroughConfig struct {
	Path          string
	Method        string
	UsernameField string
	PasswordField string
}

type DirectLoginConfig struct {
	DeepLink          string
	CompatibleDevices []string
	FallbackMsg       string
}

func Load() (*Config, error) {
	pinEndpoints, err := getEnvAsPinEndpoints("PHONE_PIN_ENDPOINTS")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Backend: BackendConfig{
			BaseURL: getEnv("BACKEND_BASE_URL", "http://localhost:8081"),
			Timeout: getEnvAsDuration("BACKEND_TIMEOUT", 10*time.Second),
		},
		DynamoDB: DynamoDBConfig{
			Endpoint:  getEnv("DYNAMODB_ENDPOINT", ""),
			Region:    getEnv("DYNAMODB_REGION", "us-east-1"),
			TableName: getEnv("DYNAMODB_TABLE_NAME", "AuthGateTable"),
		},
		Redis: RedisConfig{
			Endpoint: getEnv("REDIS_ENDPOINT", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		AccessToken: TokenConfig{
			CipherKey: getEnv("ACCESS_TOKEN_CIPHER_KEY", ""),
			SignKey:   getEnv("ACCESS_TOKEN_SIGN_KEY", ""),
			Expiry:    getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 10*time.Minute),
		},
		RefreshToken: TokenConfig{
			CipherKey: getEnv("REFRESH_TOKEN_CIPHER_KEY", ""),
			SignKey:   getEnv("REFRESH_TOKEN_SIGN_KEY", ""),
			Expiry:    getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 30*24*time.Hour),
		},
		Phone: PhoneConfig{
			PinSize:     getEnvAsInt("PHONE_PIN_SIZE", 4),
			MaxAttempts: getEnvAsInt("PHONE_PIN_ATTEMPTS", 3),
			Expiry:      getEnvAsDuration("PHONE_PIN_EXPIRY", 5*time.Minute),
			KeyTemplate: getEnv("PHONE_PIN_KEY", "user.{userId}.phone.{phone}"),
			Endpoints:   pinEndpoints,
		},
		Providers: map[string]ProviderConfig{
			"sf": {
				Name:         "sf",
				AuthorizeURL: getEnv("SF_AUTHORIZE_URL", "https://login.salesforce.com/services/oauth2/authorize"),
				TokenURL:     getEnv("SF_TOKEN_URL", "https://login.salesforce.com/services/oauth2/token"),
				ProfileURL:   getEnv("SF_PROFILE_URL", ""),
				ClientID:     getEnv("SF_CLIENT_ID", ""),
				ClientSecret: getEnv("SF_CLIENT_SECRET", ""),
				CallbackURL:  getEnv("SF_CALLBACK_URL", "http://localhost:8080/auth/sf/callback"),
				Scope:        getEnv("SF_SCOPE", "api id web refresh_token"),
				FailureURL:   getEnv("SF_FAILURE_URL", "/auth/error"),
			},
			"in": {
				Name:         "in",
				AuthorizeURL: getEnv("IN_AUTHORIZE_URL", "https://www.linkedin.com/oauth/v2/authorization"),
				TokenURL:     getEnv("IN_TOKEN_URL", "https://www.linkedin.com/oauth/v2/accessToken"),
				ProfileURL:   getEnv("IN_PROFILE_URL", "https://api.linkedin.com/v2/me"),
				ClientID:     getEnv("IN_CLIENT_ID", ""),
				ClientSecret: getEnv("IN_CLIENT_SECRET", ""),
				CallbackURL:  getEnv("IN_CALLBACK_URL", "http://localhost:8080/auth/in/callback"),
				Scope:        getEnv("IN_SCOPE", "r_liteprofile r_emailaddress"),
				FailureURL:   getEnv("IN_FAILURE_URL", "/auth/error"),
			},
		},
		Notification: NotificationConfig{
			BaseURL: getEnv("NOTIFICATION_BASE_URL", "http://localhost:8082"),
			Timeout: getEnvAsDuration("NOTIFICATION_TIMEOUT", 5*time.Second),
		},
		Avatar: AvatarConfig{
			Bucket:  getEnv("AVATAR_BUCKET", ""),
			Region:  getEnv("AVATAR_REGION", "us-east-1"),
			BaseURL: getEnv("AVATAR_BASE_URL", ""),
		},
		Version: VersionConfig{
			Header: getEnv("VERSION_HEADER", "x-version"),
		},
		PassThrough: PassThroughConfig{
			Path:          getEnv("PASSTHROUGH_PATH", "/api/profile"),
			Method:        getEnv("PASSTHROUGH_METHOD", "POST"),
			UsernameField: getEnv("PASSTHROUGH_USERNAME_FIELD", "username"),
			PasswordField: getEnv("PASSTHROUGH_PASSWORD_FIELD", "password"),
		},
		DirectLogin: DirectLoginConfig{
			DeepLink:          getEnv("DIRECT_LOGIN_DEEP_LINK", "authgate://user"),
			CompatibleDevices: getEnvAsList("DIRECT_LOGIN_DEVICES", "*iPhone*,*Android*"),
			FallbackMsg:       getEnv("DIRECT_LOGIN_FALLBACK_MSG", "Use your mobile device to finish activation"),
		},
	}

	for name, key := range map[string]string{
		"ACCESS_TOKEN_CIPHER_KEY":  cfg.AccessToken.CipherKey,
		"ACCESS_TOKEN_SIGN_KEY":    cfg.AccessToken.SignKey,
		"REFRESH_TOKEN_CIPHER_KEY": cfg.RefreshToken.CipherKey,
		"REFRESH_TOKEN_SIGN_KEY":   cfg.RefreshToken.SignKey,
	} {
		if key == "" {
			return nil, fmt.Errorf("%s environment variable is required", name)
		}
	}

	if cfg.AccessToken.CipherKey == cfg.RefreshToken.CipherKey {
		return nil, fmt.Errorf("access and refresh token cipher keys must differ")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvAsPinEndpoints(key string) ([]PinEndpoint, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return []PinEndpoint{
			{
				Path:   "/api/me/phones",
				Method: "POST",
				Fields: map[string]string{"country": "country", "phone": "phone"},
			},
		}, nil
	}
	var endpoints []PinEndpoint
	if err := json.Unmarshal([]byte(raw), &endpoints); err != nil {
		return nil, fmt.Errorf("%s is not valid JSON: %w", key, err)
	}
	return endpoints, nil
}

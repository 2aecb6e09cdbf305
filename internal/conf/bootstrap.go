package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with GRADELANE_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
//
// Required environment variables (unless provided via config file):
//   - MYSQL_DSN or GRADELANE_DATA_DATABASE_SOURCE: MySQL connection string
//   - GEMINI_API_KEY (optionally GEMINI_API_KEY2, GEMINI_API_KEY3): primary provider keys
//
// Optional:
//   - OPENAI_API_KEY: fallback provider key
//   - ENCRYPTION_KEY: AES key for "enc:" prefixed credentials
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	setDefaults(v)

	// Enable environment variable support with GRADELANE_ prefix
	v.SetEnvPrefix("GRADELANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow direct environment variable names (without GRADELANE_ prefix)
	// for secrets, matching the deployment environment of the grading fleet.
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "GRADELANE_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "REDIS_ADDR", "GRADELANE_DATA_REDIS_ADDR")
	_ = v.BindEnv("providers.openai.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("auth.encryption.key", "ENCRYPTION_KEY", "GRADELANE_AUTH_ENCRYPTION_KEY")
	_ = v.BindEnv("providers.gemini.api_key", "GEMINI_API_KEY")
	_ = v.BindEnv("providers.gemini.api_key2", "GEMINI_API_KEY2")
	_ = v.BindEnv("providers.gemini.api_key3", "GEMINI_API_KEY3")

	// Load configuration file
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
			Storage: &Data_Storage{
				Root: v.GetString("data.storage.root"),
			},
		},
		Providers: &Providers{
			Gemini: &Providers_Gemini{
				Model:    v.GetString("providers.gemini.model"),
				ApiKeys:  collectKeys(v, "providers.gemini.api_keys", "providers.gemini.api_key", "providers.gemini.api_key2", "providers.gemini.api_key3"),
				ProxyUrl: v.GetString("providers.gemini.proxy_url"),
				Timeout:  durationpb.New(v.GetDuration("providers.gemini.timeout")),
			},
			Openai: &Providers_OpenAI{
				Model:    v.GetString("providers.openai.model"),
				ApiKeys:  collectKeys(v, "providers.openai.api_keys", "providers.openai.api_key"),
				ProxyUrl: v.GetString("providers.openai.proxy_url"),
				Timeout:  durationpb.New(v.GetDuration("providers.openai.timeout")),
			},
			Ollama: &Providers_Ollama{
				Enabled:  v.GetBool("providers.ollama.enabled"),
				Endpoint: v.GetString("providers.ollama.endpoint"),
				Model:    v.GetString("providers.ollama.model"),
				Timeout:  durationpb.New(v.GetDuration("providers.ollama.timeout")),
			},
		},
		Grading: &Grading{
			MaxPrimaryAttempts:  v.GetInt32("grading.max_primary_attempts"),
			MaxFallbackAttempts: v.GetInt32("grading.max_fallback_attempts"),
			LockTtl:             durationpb.New(v.GetDuration("grading.lock_ttl")),
			StaleAfter:          durationpb.New(v.GetDuration("grading.stale_after")),
		},
		Auth: &Auth{
			Encryption: &Auth_Encryption{
				Key: v.GetString("auth.encryption.key"),
			},
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
	}

	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// collectKeys merges a list-valued config key with individually bound
// environment keys, dropping empties and duplicates while preserving order.
func collectKeys(v *viper.Viper, listKey string, singleKeys ...string) []string {
	var keys []string
	seen := make(map[string]struct{})

	add := func(k string) {
		k = strings.TrimSpace(k)
		if k == "" {
			return
		}
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}

	for _, k := range v.GetStringSlice(listKey) {
		add(k)
	}
	for _, name := range singleKeys {
		add(v.GetString(name))
	}

	return keys
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 10*time.Minute)

	// Data defaults
	v.SetDefault("data.database.driver", "mysql")
	// Note: data.database.source (MYSQL_DSN) is required from environment

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)
	v.SetDefault("data.storage.root", "./storage")

	// Provider defaults
	v.SetDefault("providers.gemini.model", "gemini-2.5-flash")
	v.SetDefault("providers.gemini.timeout", 2*time.Minute)
	v.SetDefault("providers.openai.model", "gpt-4o-mini")
	v.SetDefault("providers.openai.timeout", 2*time.Minute)
	v.SetDefault("providers.ollama.enabled", false)
	v.SetDefault("providers.ollama.endpoint", "http://127.0.0.1:11434")
	v.SetDefault("providers.ollama.model", "llama3.1")
	v.SetDefault("providers.ollama.timeout", 5*time.Minute)

	// Grading engine defaults
	v.SetDefault("grading.max_primary_attempts", 3)
	v.SetDefault("grading.max_fallback_attempts", 1)
	v.SetDefault("grading.lock_ttl", 3*time.Second)
	v.SetDefault("grading.stale_after", 10*time.Minute)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing all missing required fields.
func Validate(bc *Bootstrap) error {
	var missingFields []string

	if bc.Data == nil || bc.Data.Database == nil || bc.Data.Database.Source == "" {
		missingFields = append(missingFields, "data.database.source (MYSQL_DSN)")
	}

	if bc.Providers == nil || bc.Providers.Gemini == nil || len(bc.Providers.Gemini.ApiKeys) == 0 {
		missingFields = append(missingFields, "providers.gemini.api_keys (GEMINI_API_KEY)")
	}

	if len(missingFields) > 0 {
		return fmt.Errorf("missing required configuration fields: %s", strings.Join(missingFields, ", "))
	}

	return nil
}

// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"google.golang.org/protobuf/types/known/durationpb"
)

// Bootstrap is the root configuration for the GradeLane service.
type Bootstrap struct {
	Server    *Server
	Data      *Data
	Providers *Providers
	Grading   *Grading
	Auth      *Auth
	Log       *Log
}

// Server holds transport server configuration.
type Server struct {
	Http *Server_HTTP
}

// Server_HTTP holds HTTP server configuration.
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Data holds data layer configuration.
type Data struct {
	Database *Data_Database
	Redis    *Data_Redis
	Storage  *Data_Storage
}

// Data_Database holds the relational database configuration.
type Data_Database struct {
	Driver string
	Source string
}

// Data_Redis holds the Redis (shared health store) configuration.
type Data_Redis struct {
	Network      string
	Addr         string
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Data_Storage holds the uploaded-file storage configuration.
type Data_Storage struct {
	// Root is the directory uploaded file bytes are resolved under.
	Root string
}

// Providers holds LLM provider configuration.
type Providers struct {
	Gemini *Providers_Gemini
	Openai *Providers_OpenAI
	Ollama *Providers_Ollama
}

// Providers_Gemini configures the primary grading provider.
type Providers_Gemini struct {
	Model string
	// ApiKeys are the interchangeable credentials for the key pool.
	// Each may be a plaintext key or an "enc:" prefixed AES-GCM ciphertext.
	ApiKeys []string
	// ProxyUrl routes provider traffic through an http:// or socks5:// proxy.
	ProxyUrl string
	Timeout  *durationpb.Duration
}

// Providers_OpenAI configures the fallback grading provider.
type Providers_OpenAI struct {
	Model    string
	ApiKeys  []string
	ProxyUrl string
	Timeout  *durationpb.Duration
}

// Providers_Ollama configures the optional local grading provider.
type Providers_Ollama struct {
	Enabled  bool
	Endpoint string
	Model    string
	Timeout  *durationpb.Duration
}

// Grading holds orchestration engine tuning knobs.
type Grading struct {
	// MaxPrimaryAttempts bounds provider calls against the primary key pool.
	MaxPrimaryAttempts int32
	// MaxFallbackAttempts bounds provider calls against the fallback pool.
	MaxFallbackAttempts int32
	// LockTtl bounds the key-selection lock so a crashed holder self-expires.
	LockTtl *durationpb.Duration
	// StaleAfter is how long a task may sit in PROCESSING before the
	// janitor re-queues it.
	StaleAfter *durationpb.Duration
}

// Auth holds secret material configuration.
type Auth struct {
	Encryption *Auth_Encryption
}

// Auth_Encryption holds the AES key used to decrypt "enc:" prefixed
// provider credentials.
type Auth_Encryption struct {
	Key string
}

// Log holds logging configuration.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}

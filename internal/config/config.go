// Package config loads run configuration the same way the teacher's
// InitializeZapFolder/Config wizard did for Falcon's .zap folder, adapted to
// Fracture's domain: instead of an LLM-provider setup wizard, it materializes
// an engine.RuntimeOptions from a .fracture/config.yaml file, environment
// variables, and CLI flags, merged by spf13/viper (spec.md §6's
// "RuntimeOptions ... supplied by caller" needs one concrete CLI-facing
// source).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/fracture-labs/fracture/internal/engine"
)

// FractureDirName is the project-local config folder, mirroring the
// teacher's ZapFolderName convention.
const FractureDirName = ".fracture"

// ConfigFileName is the YAML file viper merges under FractureDirName.
const ConfigFileName = "config.yaml"

// File is the on-disk shape of .fracture/config.yaml. Only scalar/simple
// fields are persisted; environment variable sets and iteration data are
// supplied per-run via flags or a separate environment file.
type File struct {
	Environment     string `mapstructure:"environment" yaml:"environment"`
	StrictMode      *bool  `mapstructure:"strict_mode" yaml:"strict_mode,omitempty"`
	MaxConcurrency  int    `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	AllowParallel   bool   `mapstructure:"allow_parallel" yaml:"allow_parallel"`
	Bail            bool   `mapstructure:"bail" yaml:"bail"`
	RequestTimeout  int    `mapstructure:"request_timeout_ms" yaml:"request_timeout_ms"`
	FollowRedirects bool   `mapstructure:"follow_redirects" yaml:"follow_redirects"`
	MaxRedirects    int    `mapstructure:"max_redirects" yaml:"max_redirects"`
	RejectTLS       bool   `mapstructure:"reject_unauthorized" yaml:"reject_unauthorized"`
	ProxyURL        string `mapstructure:"proxy_url" yaml:"proxy_url,omitempty"`
	RateLimit       int    `mapstructure:"rate_limit_per_sec" yaml:"rate_limit_per_sec"`
	LogLevel        string `mapstructure:"log_level" yaml:"log_level"`
}

// defaultFile returns the file written by Init for a brand-new project.
func defaultFile() File {
	return File{
		Environment:     "dev",
		MaxConcurrency:  4,
		AllowParallel:   true,
		RequestTimeout:  60000,
		FollowRedirects: true,
		MaxRedirects:    5,
		RejectTLS:       true,
		RateLimit:       0,
		LogLevel:        "info",
	}
}

// Load merges .fracture/config.yaml, FRACTURE_-prefixed environment
// variables, and a .env file (via godotenv, for local secrets like proxy
// credentials or vault keys) into a viper instance, matching the teacher's
// initConfig/InitializeZapFolder layering.
func Load(dir string) (*viper.Viper, File, error) {
	_ = godotenv.Load(filepath.Join(dir, ".env")) // local secrets; missing file is not an error

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(dir, FractureDirName))
	v.SetEnvPrefix("FRACTURE")
	v.AutomaticEnv()

	def := defaultFile()
	v.SetDefault("environment", def.Environment)
	v.SetDefault("max_concurrency", def.MaxConcurrency)
	v.SetDefault("allow_parallel", def.AllowParallel)
	v.SetDefault("request_timeout_ms", def.RequestTimeout)
	v.SetDefault("follow_redirects", def.FollowRedirects)
	v.SetDefault("max_redirects", def.MaxRedirects)
	v.SetDefault("reject_unauthorized", def.RejectTLS)
	v.SetDefault("rate_limit_per_sec", def.RateLimit)
	v.SetDefault("log_level", def.LogLevel)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, File{}, fmt.Errorf("reading %s: %w", ConfigFileName, err)
		}
	}

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, File{}, fmt.Errorf("decoding config: %w", err)
	}
	return v, f, nil
}

// ToRuntimeOptions materializes the persisted File plus a run's environment
// variable set and iteration data into an engine.RuntimeOptions. globalVars
// and envVars come from whatever environment/global files the caller loaded
// separately (internal/config does not own their format).
func (f File) ToRuntimeOptions(globalVars, envVars map[string]any, data []map[string]any) engine.RuntimeOptions {
	return engine.RuntimeOptions{
		GlobalVariables: globalVars,
		Environment:     engine.EnvironmentOptions{Name: f.Environment, Vars: envVars},
		Data:            data,
		StrictMode:      f.StrictMode,
		Timeout:         engine.TimeoutOptions{RequestMs: f.RequestTimeout},
		SSL:             engine.SSLOptions{RejectUnauthorized: f.RejectTLS},
		Proxy:           engine.ProxyOptions{URL: f.ProxyURL},
		FollowRedirects: f.FollowRedirects,
		MaxRedirects:    f.MaxRedirects,
		Execution: engine.ExecutionOptions{
			AllowParallel:  f.AllowParallel,
			MaxConcurrency: f.MaxConcurrency,
			Bail:           f.Bail,
		},
	}
}

// Init creates the .fracture folder and a default config.yaml if they don't
// already exist, mirroring the teacher's InitializeZapFolder but without the
// interactive huh wizard (Fracture has no LLM provider to choose).
func Init(dir string) error {
	fractureDir := filepath.Join(dir, FractureDirName)
	if _, err := os.Stat(fractureDir); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("checking %s: %w", fractureDir, err)
	}

	if err := os.MkdirAll(fractureDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", fractureDir, err)
	}
	for _, sub := range []string{"environments", "vaults"} {
		if err := os.MkdirAll(filepath.Join(fractureDir, sub), 0o755); err != nil {
			return fmt.Errorf("creating %s/%s: %w", fractureDir, sub, err)
		}
	}

	data, err := yaml.Marshal(defaultFile())
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(fractureDir, ConfigFileName), data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", ConfigFileName, err)
	}

	devEnv := "BASE_URL: http://localhost:3000\n"
	if err := os.WriteFile(filepath.Join(fractureDir, "environments", "dev.yaml"), []byte(devEnv), 0o644); err != nil {
		return fmt.Errorf("writing default environment: %w", err)
	}
	return nil
}

// LoadEnvironment reads one named environment file from .fracture/environments.
func LoadEnvironment(dir, name string) (map[string]any, error) {
	path := filepath.Join(dir, FractureDirName, "environments", name+".yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading environment %q: %w", name, err)
	}
	var vars map[string]any
	if err := yaml.Unmarshal(raw, &vars); err != nil {
		return nil, fmt.Errorf("parsing environment %q: %w", name, err)
	}
	return vars, nil
}

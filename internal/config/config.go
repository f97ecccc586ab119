// Package config loads codeloom configuration from JSONC files and the
// environment.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"

	"github.com/codeloom-ai/codeloom/pkg/types"
)

// Load builds configuration from multiple sources (priority order, later
// sources win):
//  1. Global config (~/.config/codeloom/codeloom.json[c])
//  2. Project config (<directory>/codeloom.json[c])
//  3. CODELOOM_CONFIG file override
//  4. Environment variables
func Load(directory string) (*types.Config, error) {
	// .env files are a convenience for local development; missing is fine.
	_ = godotenv.Load(filepath.Join(directory, ".env"))

	config := types.DefaultConfig()

	loaded := make(map[string]bool)
	loadOnce := func(path, baseDir string) {
		absPath, err := filepath.Abs(path)
		if err != nil || loaded[absPath] {
			return
		}
		if loadConfigFile(path, config, baseDir) == nil {
			loaded[absPath] = true
		}
	}

	globalDir := GlobalConfigDir()
	loadOnce(filepath.Join(globalDir, "codeloom.json"), globalDir)
	loadOnce(filepath.Join(globalDir, "codeloom.jsonc"), globalDir)

	if directory != "" {
		loadOnce(filepath.Join(directory, "codeloom.json"), directory)
		loadOnce(filepath.Join(directory, "codeloom.jsonc"), directory)
	}

	if configPath := os.Getenv("CODELOOM_CONFIG"); configPath != "" {
		loadOnce(configPath, filepath.Dir(configPath))
	}

	applyEnvOverrides(config)
	applyDefaults(config)

	return config, nil
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	data = jsonc.ToJSON(data)
	data = interpolate(data, baseDir)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		path := filePattern.FindStringSubmatch(match)[1]
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(content))
	})

	return []byte(str)
}

// mergeConfig overlays src onto dst; non-zero src fields win.
func mergeConfig(dst, src *types.Config) {
	if src.Schema != "" {
		dst.Schema = src.Schema
	}
	if src.Model != "" {
		dst.Model = src.Model
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	for id, pc := range src.Provider {
		existing := dst.Provider[id]
		if pc.APIKey != "" {
			existing.APIKey = pc.APIKey
		}
		if pc.BaseURL != "" {
			existing.BaseURL = pc.BaseURL
		}
		if pc.Model != "" {
			existing.Model = pc.Model
		}
		if pc.MaxTokens != 0 {
			existing.MaxTokens = pc.MaxTokens
		}
		if pc.Disable {
			existing.Disable = true
		}
		dst.Provider[id] = existing
	}
	if src.Engine.MaxConcurrent > 0 {
		dst.Engine.MaxConcurrent = src.Engine.MaxConcurrent
	}
	if src.Engine.RequestTimeoutSeconds > 0 {
		dst.Engine.RequestTimeoutSeconds = src.Engine.RequestTimeoutSeconds
	}
	if src.Engine.CacheTTLSeconds > 0 {
		dst.Engine.CacheTTLSeconds = src.Engine.CacheTTLSeconds
	}
	if src.Engine.MaxIterations > 0 {
		dst.Engine.MaxIterations = src.Engine.MaxIterations
	}
}

// applyEnvOverrides lets the environment supply credentials and the default
// model without a config file.
func applyEnvOverrides(config *types.Config) {
	setKey := func(providerID, key string) {
		if key == "" {
			return
		}
		pc := config.Provider[providerID]
		if pc.APIKey == "" {
			pc.APIKey = key
		}
		config.Provider[providerID] = pc
	}

	setKey("anthropic", os.Getenv("ANTHROPIC_API_KEY"))
	setKey("openai", os.Getenv("OPENAI_API_KEY"))

	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		pc := config.Provider["ollama"]
		if pc.BaseURL == "" {
			pc.BaseURL = host
		}
		config.Provider["ollama"] = pc
	}

	if model := os.Getenv("CODELOOM_MODEL"); model != "" {
		config.Model = model
	}
	if level := os.Getenv("CODELOOM_LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}
}

// applyDefaults backfills engine limits that no source provided.
func applyDefaults(config *types.Config) {
	defaults := types.DefaultEngineConfig()
	if config.Engine.MaxConcurrent <= 0 {
		config.Engine.MaxConcurrent = defaults.MaxConcurrent
	}
	if config.Engine.RequestTimeoutSeconds <= 0 {
		config.Engine.RequestTimeoutSeconds = defaults.RequestTimeoutSeconds
	}
	if config.Engine.CacheTTLSeconds <= 0 {
		config.Engine.CacheTTLSeconds = defaults.CacheTTLSeconds
	}
	if config.Engine.MaxIterations <= 0 {
		config.Engine.MaxIterations = defaults.MaxIterations
	}
}

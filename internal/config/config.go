package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/opencode-ai/cliagent/pkg/types"
)

const appName = "cliagent"

// providerEnv maps provider ids to the environment variable holding their
// API key.
var providerEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"ark":       "ARK_API_KEY",
}

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// Load loads configuration from multiple sources (later sources win):
// 1. .env in the project directory (never overrides the environment)
// 2. Global config (~/.config/cliagent/)
// 3. Project config (cliagent.json, .cliagent/)
// 4. CLIAGENT_CONFIG file
// 5. CLIAGENT_CONFIG_CONTENT inline JSON
// 6. Environment variables
//
// Missing files are skipped; files that cannot be parsed are an error.
func Load(directory string) (*types.Config, error) {
	config := &types.Config{
		Provider: make(map[string]types.ProviderConfig),
	}

	if directory != "" {
		if err := godotenv.Load(filepath.Join(directory, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	loaded := make(map[string]bool)
	loadOnce := func(path, baseDir string) error {
		absPath, err := filepath.Abs(path)
		if err != nil || loaded[absPath] {
			return nil
		}
		err = loadConfigFile(path, config, baseDir)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		loaded[absPath] = true
		return nil
	}

	var candidates [][2]string
	addDir := func(dir string) {
		for _, name := range []string{appName + ".json", appName + ".jsonc", appName + ".yaml", appName + ".yml"} {
			candidates = append(candidates, [2]string{filepath.Join(dir, name), dir})
		}
	}

	addDir(GetPaths().Config)
	if directory != "" {
		addDir(directory)
		addDir(filepath.Join(directory, "."+appName))
	}
	if path := os.Getenv("CLIAGENT_CONFIG"); path != "" {
		candidates = append(candidates, [2]string{path, filepath.Dir(path)})
	}

	for _, c := range candidates {
		if err := loadOnce(c[0], c[1]); err != nil {
			return nil, err
		}
	}

	if content := os.Getenv("CLIAGENT_CONFIG_CONTENT"); content != "" {
		var inline types.Config
		if err := json.Unmarshal(jsonc.ToJSON([]byte(content)), &inline); err != nil {
			return nil, fmt.Errorf("parse CLIAGENT_CONFIG_CONTENT: %w", err)
		}
		mergeConfig(config, &inline)
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}
	return config, nil
}

// loadConfigFile loads a single JSON, JSONC or YAML config file.
func loadConfigFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fileConfig types.Config
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fileConfig); err != nil {
			return err
		}
	default:
		data = interpolate(jsonc.ToJSON(data), baseDir)
		if err := json.Unmarshal(data, &fileConfig); err != nil {
			return err
		}
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// interpolate processes {env:VAR} and {file:path} placeholders in JSON text.
func interpolate(data []byte, baseDir string) []byte {
	str := envPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]
		if strings.HasPrefix(filePath, "~/") {
			filePath = filepath.Join(os.Getenv("HOME"), filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match
		}
		escaped, _ := json.Marshal(strings.TrimRight(string(content), "\n"))
		return string(escaped[1 : len(escaped)-1])
	})

	return []byte(str)
}

// mergeConfig merges source config into target.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.Model != "" {
		target.Model = source.Model
	}
	if source.Isolation {
		target.Isolation = true
	}
	if source.WorkingDirectory != "" {
		target.WorkingDirectory = source.WorkingDirectory
	}
	if source.IdleTimeout != "" {
		target.IdleTimeout = source.IdleTimeout
	}
	if len(source.Workspace) > 0 {
		target.Workspace = append(target.Workspace, source.Workspace...)
	}
	if source.Storage != "" {
		target.Storage = source.Storage
	}
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}

	if source.Provider != nil {
		if target.Provider == nil {
			target.Provider = make(map[string]types.ProviderConfig)
		}
		for k, v := range source.Provider {
			target.Provider[k] = v
		}
	}

	if source.Permission != nil {
		if target.Permission == nil {
			target.Permission = &types.PermissionConfig{}
		}
		if source.Permission.ConfirmEdits != nil {
			target.Permission.ConfirmEdits = source.Permission.ConfirmEdits
		}
		if source.Permission.Shell != nil {
			if target.Permission.Shell == nil {
				target.Permission.Shell = make(map[string]string)
			}
			for k, v := range source.Permission.Shell {
				target.Permission.Shell[k] = v
			}
		}
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) error {
	for provider, envVar := range providerEnv {
		apiKey := os.Getenv(envVar)
		if apiKey == "" {
			continue
		}
		p := config.Provider[provider]
		if p.APIKey == "" {
			p.APIKey = apiKey
			config.Provider[provider] = p
		}
	}

	if model := os.Getenv("CLIAGENT_MODEL"); model != "" {
		config.Model = model
	}
	if v := os.Getenv("CLIAGENT_ISOLATION"); v != "" {
		isolation, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CLIAGENT_ISOLATION: %w", err)
		}
		config.Isolation = isolation
	}
	if v := os.Getenv("CLIAGENT_IDLE_TIMEOUT"); v != "" {
		config.IdleTimeout = v
	}
	if v := os.Getenv("CLIAGENT_LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
	if v := os.Getenv("CLIAGENT_STORAGE"); v != "" {
		config.Storage = v
	}

	if permJSON := os.Getenv("CLIAGENT_PERMISSION"); permJSON != "" {
		var perm types.PermissionConfig
		if err := json.Unmarshal([]byte(permJSON), &perm); err != nil {
			return fmt.Errorf("CLIAGENT_PERMISSION: %w", err)
		}
		config.Permission = &perm
	}
	return nil
}

// IdleTimeout parses the configured idle timeout. Zero means the default.
func IdleTimeout(config *types.Config) (time.Duration, error) {
	if config.IdleTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(config.IdleTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid idleTimeout %q: %w", config.IdleTimeout, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid idleTimeout %q: negative", config.IdleTimeout)
	}
	return d, nil
}

// StorageDir returns the data directory of the local runtime.
func StorageDir(config *types.Config) string {
	if config.Storage != "" {
		return config.Storage
	}
	return GetPaths().StoragePath()
}

// Save saves the configuration to a file.
func Save(config *types.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// GetConfigDir returns the config directory to use.
// Prefers CLIAGENT_CONFIG_DIR, then ~/.config/cliagent.
func GetConfigDir() string {
	if dir := os.Getenv("CLIAGENT_CONFIG_DIR"); dir != "" {
		return dir
	}
	return GetPaths().Config
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "overlay-ocr"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "OVERLAYOCR"

	// DotEnvFile is loaded into the environment before variables are bound.
	DotEnvFile = ".env"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v        *viper.Viper
	envFiles []string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	// Use the global viper instance to ensure flag bindings work
	return &Loader{v: viper.GetViper(), envFiles: []string{DotEnvFile}}
}

// NewLoaderWithViper creates a loader on a dedicated viper instance.
func NewLoaderWithViper(v *viper.Viper, envFiles ...string) *Loader {
	if len(envFiles) == 0 {
		envFiles = []string{DotEnvFile}
	}
	return &Loader{v: v, envFiles: envFiles}
}

// Load loads configuration from files, environment variables, and sets defaults.
// It returns the loaded configuration and any error encountered.
func (l *Loader) Load() (*Config, error) {
	return l.load("", true)
}

// LoadWithoutValidation loads configuration without validating it.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	return l.load("", false)
}

// LoadWithFile loads configuration from a specific file path.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	return l.load(configFile, true)
}

// LoadWithFileWithoutValidation loads configuration from a specific file path without validation.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	return l.load(configFile, false)
}

func (l *Loader) load(configFile string, validate bool) (*Config, error) {
	if err := l.loadDotEnv(); err != nil {
		return nil, err
	}
	l.setupEnvironmentVariables()
	l.setDefaults()

	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml") // Primary format, but viper supports multiple formats
		l.addConfigPaths()
		if err := l.v.ReadInConfig(); err != nil {
			// It's okay if config file doesn't exist, we'll use defaults and env vars
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if validate {
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}
	return &config, nil
}

// loadDotEnv loads .env files into the process environment. Variables that
// are already set win; missing files are ignored.
func (l *Loader) loadDotEnv() error {
	for _, f := range l.envFiles {
		err := godotenv.Load(f)
		if err == nil {
			slog.Debug("Loaded environment file", "path", f)
			continue
		}
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return fmt.Errorf("error reading env file %s: %w", f, err)
	}
	return nil
}

// Get returns a value from the configuration.
func (l *Loader) Get(key string) any {
	return l.v.Get(key)
}

// GetString returns a string value from the configuration.
func (l *Loader) GetString(key string) string {
	return l.v.GetString(key)
}

// Set sets a value in the configuration.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance for advanced usage.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// addConfigPaths adds the standard configuration search paths.
func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

// setupEnvironmentVariables configures environment variable handling.
func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	// OVERLAYOCR_CACHE_REDIS_URL -> cache.redis_url
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults sets default values for all configuration options.
func (l *Loader) setDefaults() {
	defaults := DefaultConfig()

	// Global settings
	l.v.SetDefault("models_dir", defaults.ModelsDir)
	l.v.SetDefault("log_level", defaults.LogLevel)
	l.v.SetDefault("verbose", defaults.Verbose)
	l.v.SetDefault("backend", defaults.Backend)

	l.v.SetDefault("runtime.library_path", defaults.Runtime.LibraryPath)
	l.v.SetDefault("runtime.num_threads", defaults.Runtime.NumThreads)

	l.v.SetDefault("ocr.language", defaults.OCR.Language)
	l.v.SetDefault("ocr.detection_threshold", defaults.OCR.DetectionThreshold)
	l.v.SetDefault("ocr.recognition_threshold", defaults.OCR.RecognitionThreshold)

	l.v.SetDefault("tiling.enable_parallel", defaults.Tiling.EnableParallel)
	l.v.SetDefault("tiling.min_image_size_for_parallel", defaults.Tiling.MinImageSizeForParallel)
	l.v.SetDefault("tiling.tile_columns", defaults.Tiling.TileColumns)
	l.v.SetDefault("tiling.tile_rows", defaults.Tiling.TileRows)
	l.v.SetDefault("tiling.tile_overlap_pixels", defaults.Tiling.TileOverlapPixels)
	l.v.SetDefault("tiling.max_parallelism", defaults.Tiling.MaxParallelism)
	l.v.SetDefault("tiling.merge_policy", string(defaults.Tiling.MergePolicy))

	l.v.SetDefault("detector.max_side_len", defaults.Detector.MaxSideLen)
	l.v.SetDefault("detector.box_threshold", defaults.Detector.BoxThreshold)
	l.v.SetDefault("detector.unclip_ratio", defaults.Detector.UnclipRatio)
	l.v.SetDefault("detector.min_area", defaults.Detector.MinArea)
	l.v.SetDefault("detector.min_side", defaults.Detector.MinSide)
	l.v.SetDefault("detector.max_candidates", defaults.Detector.MaxCandidates)

	l.v.SetDefault("recognizer.image_height", defaults.Recognizer.ImageHeight)
	l.v.SetDefault("recognizer.max_width", defaults.Recognizer.MaxWidth)
	l.v.SetDefault("recognizer.pad_width_multiple", defaults.Recognizer.PadWidthMultiple)
	l.v.SetDefault("recognizer.use_space_char", defaults.Recognizer.UseSpaceChar)

	l.v.SetDefault("cache.enabled", defaults.Cache.Enabled)
	l.v.SetDefault("cache.backend", defaults.Cache.Backend)
	l.v.SetDefault("cache.size", defaults.Cache.Size)
	l.v.SetDefault("cache.redis_url", defaults.Cache.RedisURL)
	l.v.SetDefault("cache.ttl", defaults.Cache.TTL)

	// Output defaults
	l.v.SetDefault("output.format", defaults.Output.Format)
	l.v.SetDefault("output.file", defaults.Output.File)
	l.v.SetDefault("output.overlay_dir", defaults.Output.OverlayDir)
	l.v.SetDefault("output.overlay_box_color", defaults.Output.OverlayBoxColor)
	l.v.SetDefault("output.overlay_contour_color", defaults.Output.OverlayContourColor)

	// Server defaults
	l.v.SetDefault("server.host", defaults.Server.Host)
	l.v.SetDefault("server.port", defaults.Server.Port)
	l.v.SetDefault("server.cors_origin", defaults.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", defaults.Server.MaxUploadMB)
	l.v.SetDefault("server.timeout_sec", defaults.Server.TimeoutSec)
	l.v.SetDefault("server.shutdown_timeout", defaults.Server.ShutdownTimeout)

	// GPU defaults
	l.v.SetDefault("gpu.enabled", defaults.GPU.Enabled)
	l.v.SetDefault("gpu.device", defaults.GPU.Device)
	l.v.SetDefault("gpu.memory_limit", defaults.GPU.MemoryLimit)
}

// GetResolvedConfig returns the current resolved configuration for debugging.
func (l *Loader) GetResolvedConfig() map[string]any {
	return l.v.AllSettings()
}

// WriteConfigToFile writes the current configuration to a file.
func (l *Loader) WriteConfigToFile(filename string) error {
	return l.v.WriteConfigAs(filename)
}

// GenerateDefaultConfigFile generates a default configuration file.
func GenerateDefaultConfigFile(filename string) error {
	loader := NewLoaderWithViper(viper.New())
	loader.setDefaults()

	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	return loader.WriteConfigToFile(filename)
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}

	home, homeErr := os.UserHomeDir()
	if homeErr == nil {
		paths = append(paths, home)
	}
	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists {
		paths = append(paths, filepath.Join(configDir, ConfigFileName))
	} else if homeErr == nil {
		paths = append(paths, filepath.Join(home, ".config", ConfigFileName))
	}

	return append(paths, "/etc/"+ConfigFileName)
}

// ConfigInfo describes how the configuration was resolved.
func (l *Loader) ConfigInfo() string {
	return fmt.Sprintf("Configuration file used: %s\nConfiguration search paths: %v\nEnvironment prefix: %s\n",
		l.GetConfigFileUsed(), GetConfigSearchPaths(), EnvPrefix)
}

package cmd

import (
	"errors"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"shadowbox.dev/pkg/shadowbox/internal/classcache"
)

const (
	configVersionKey     = "version"
	currentConfigVersion = 1

	configBaseName   = "shadowbox"
	configFileName   = configBaseName + ".yaml"
	configFolderPath = "."

	artifactsFlagName = "artifacts"
	resolverFlagName  = "resolver"
	outputFlagName    = "output"
	noCacheFlagName   = "no-cache"
	parallelFlagName  = "parallel"
	strictFlagName    = "strict"
	verboseFlagName   = "verbose"
	logFileFlagName   = "log-file"

	artifactsConfigKey = "platform.artifacts"
	resolverConfigKey  = "platform.resolver"
	cacheBackendKey    = "cache.backend"
	cacheDirKey        = "cache.dir"
	parallelConfigKey  = "rewrite.parallel"
	strictConfigKey    = "sandbox.strict"

	defaultArtifactsDir = "platform"
	defaultResolverFile = "shadowbox-resolver.yaml"
	defaultOutputDir    = ".shadowbox-rewritten"
	defaultCacheBackend = classcache.BackendFS
	defaultCacheDir     = ".shadowbox-cache"
	defaultNoCache      = false
	defaultParallel     = 4
	defaultStrict       = false

	envPrefix = "SHADOWBOX"

	logFilenameKey   = "log.filename"
	logLevelKey      = "log.level"
	logVerboseKey    = "log.verbose"
	logMaxSizeKey    = "log.max_size"
	logMaxBackupsKey = "log.max_backups"
	logMaxAgeKey     = "log.max_age"
	logCompressKey   = "log.compress"

	defaultLogFilename   = ".shadowbox.log"
	defaultLogLevel      = int(slog.LevelInfo)
	defaultLogVerbose    = false
	defaultLogMaxSize    = 10
	defaultLogMaxBackups = 3
	defaultLogMaxAge     = 28
	defaultLogCompress   = true
)

var globalLogger *slog.Logger

func init() {
	viper.SetConfigName(configBaseName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configFolderPath)
	viper.SetConfigFile(filepath.Join(configFolderPath, configFileName))
	viper.AutomaticEnv()
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	viper.SetDefault(configVersionKey, currentConfigVersion)
	viper.SetDefault(artifactsConfigKey, defaultArtifactsDir)
	viper.SetDefault(resolverConfigKey, defaultResolverFile)
	viper.SetDefault(outputFlagName, defaultOutputDir)
	viper.SetDefault(noCacheFlagName, defaultNoCache)
	viper.SetDefault(cacheBackendKey, defaultCacheBackend)
	viper.SetDefault(cacheDirKey, defaultCacheDir)
	viper.SetDefault(parallelConfigKey, defaultParallel)
	viper.SetDefault(strictConfigKey, defaultStrict)

	// Logging defaults (used by config/env and as fallbacks for flags).
	viper.SetDefault(logFilenameKey, defaultLogFilename)
	viper.SetDefault(logLevelKey, defaultLogLevel)
	viper.SetDefault(logVerboseKey, defaultLogVerbose)
	viper.SetDefault(logMaxSizeKey, defaultLogMaxSize)
	viper.SetDefault(logMaxBackupsKey, defaultLogMaxBackups)
	viper.SetDefault(logMaxAgeKey, defaultLogMaxAge)
	viper.SetDefault(logCompressKey, defaultLogCompress)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return
		}

		return
	}
}

// cacheConfig returns the rewritten-class cache settings.
func cacheConfig() classcache.Config {
	if viper.GetBool(noCacheFlagName) {
		return classcache.Config{Backend: classcache.BackendNone}
	}

	return classcache.Config{
		Backend: viper.GetString(cacheBackendKey),
		Dir:     viper.GetString(cacheDirKey),
	}
}

func parseSlogLevel(value string, defaultLevel slog.Level) slog.Level {
	level := strings.ToLower(strings.TrimSpace(value))
	if level == "" {
		return defaultLevel
	}

	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}

	// Allow numeric slog levels as well (e.g. -4 for debug).
	if n, err := strconv.Atoi(level); err == nil {
		return slog.Level(n)
	}

	return defaultLevel
}

// configureLogger configures the global slog logger.
//
// By default it logs at Info; if verbose is true it logs at Debug.
func configureLogger(logPath string, verbose bool) {
	if strings.TrimSpace(logPath) == "" {
		logPath = viper.GetString(logFilenameKey)
	}

	if strings.TrimSpace(logPath) == "" {
		logPath = defaultLogFilename
	}

	var logLevel slog.Level
	if verbose {
		logLevel = slog.LevelDebug
	} else {
		logLevel = parseSlogLevel(viper.GetString(logLevelKey), slog.LevelInfo)
	}

	logWriter := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    viper.GetInt(logMaxSizeKey),
		MaxBackups: viper.GetInt(logMaxBackupsKey),
		MaxAge:     viper.GetInt(logMaxAgeKey),
		Compress:   viper.GetBool(logCompressKey),
	}

	handler := slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		AddSource: true,
		Level:     logLevel,
	})

	globalLogger = slog.New(handler)
	slog.SetDefault(globalLogger)
}

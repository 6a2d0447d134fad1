// Package config loads the service's options from the custom
// KEY=VALUE configuration file format named in §6 of the specification,
// layering environment variable and CLI-flag overrides on top with
// viper, and validating the result with go-playground/validator.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/marmos91/fsd/internal/bytesize"
)

// Config is the fully-resolved set of options the service runs with.
type Config struct {
	SocketFileName   string `mapstructure:"SOCKET_FILE_NAME" validate:"required"`
	LogFileName      string `mapstructure:"LOG_FILE_NAME" validate:"required"`
	FilesMaxNum      uint32 `mapstructure:"FILES_MAX_NUM"`
	StorageMaxSizeMB uint64 `mapstructure:"STORAGE_MAX_SIZE" validate:"gt=0"`
	MaxConn          uint32 `mapstructure:"MAX_CONN" validate:"gt=0"`
	WorkerThreadsNum uint32 `mapstructure:"WORKER_THREADS_NUM" validate:"gt=0"`
}

// BytesCap returns the configured byte-count capacity, resolved from
// STORAGE_MAX_SIZE (MiB) to bytes.
func (c Config) BytesCap() int64 {
	return int64(c.StorageMaxSizeMB) * 1024 * 1024
}

// knownKeys is the exact set of keys the configuration file may declare;
// any other key is a syntax error, per §6.
var knownKeys = map[string]bool{
	"SOCKET_FILE_NAME":   true,
	"LOG_FILE_NAME":      true,
	"FILES_MAX_NUM":      true,
	"STORAGE_MAX_SIZE":   true,
	"MAX_CONN":           true,
	"WORKER_THREADS_NUM": true,
}

// Defaults returns the specification's default configuration.
func Defaults() Config {
	home, _ := os.UserHomeDir()
	logPath := "/.file_storage/file_storage.log"
	if home != "" {
		logPath = home + logPath
	}
	return Config{
		SocketFileName:   "/tmp/file_storage.sk",
		LogFileName:      logPath,
		FilesMaxNum:      1000,
		StorageMaxSizeMB: 64,
		MaxConn:          16,
		WorkerThreadsNum: 4,
	}
}

// ParseFile reads a KEY=VALUE configuration file, one assignment per
// line. Blank lines are ignored. Every key must be one of knownKeys;
// anything else is a syntax error.
func ParseFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq <= 0 {
			return nil, fmt.Errorf("config: %s:%d: syntax error: expected KEY=VALUE", path, lineNo)
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if !knownKeys[key] {
			return nil, fmt.Errorf("config: %s:%d: syntax error: unknown key %q", path, lineNo, key)
		}
		values[key] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	return values, nil
}

// Load builds a Config from (in increasing precedence) the built-in
// defaults, the file at path (if non-empty), and FSD_-prefixed
// environment variables, then validates the result.
func Load(path string) (*Config, error) {
	defaults := Defaults()

	v := viper.New()
	v.SetEnvPrefix("FSD")
	v.AutomaticEnv()

	setDefault(v, "SOCKET_FILE_NAME", defaults.SocketFileName)
	setDefault(v, "LOG_FILE_NAME", defaults.LogFileName)
	setDefault(v, "FILES_MAX_NUM", defaults.FilesMaxNum)
	setDefault(v, "STORAGE_MAX_SIZE", defaults.StorageMaxSizeMB)
	setDefault(v, "MAX_CONN", defaults.MaxConn)
	setDefault(v, "WORKER_THREADS_NUM", defaults.WorkerThreadsNum)
	for key := range knownKeys {
		_ = v.BindEnv(key)
	}

	if path != "" {
		fileValues, err := ParseFile(path)
		if err != nil {
			return nil, err
		}
		for key, raw := range fileValues {
			val, err := coerce(key, raw)
			if err != nil {
				return nil, err
			}
			v.SetDefault(key, val)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return &cfg, nil
}

func setDefault(v *viper.Viper, key string, val any) {
	v.SetDefault(key, val)
}

// ParseStorageMaxSizeFlag parses a --storage-max-size CLI flag value the
// same way the STORAGE_MAX_SIZE file key is parsed, returning the
// resolved capacity in MiB.
func ParseStorageMaxSizeFlag(raw string) (uint64, error) {
	val, err := coerce("STORAGE_MAX_SIZE", raw)
	if err != nil {
		return 0, err
	}
	return val.(uint64), nil
}

// coerce converts a raw file value to the type its key expects.
// STORAGE_MAX_SIZE accepts either a bare MiB integer (the source format)
// or a bytesize-parseable suffix ("64MiB", "1GiB") for convenience.
func coerce(key, raw string) (any, error) {
	switch key {
	case "SOCKET_FILE_NAME", "LOG_FILE_NAME":
		return raw, nil
	case "FILES_MAX_NUM", "MAX_CONN", "WORKER_THREADS_NUM":
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("config: %s: not a u32: %q", key, raw)
		}
		return uint32(n), nil
	case "STORAGE_MAX_SIZE":
		if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
			return n, nil
		}
		bs, err := bytesize.ParseByteSize(raw)
		if err != nil {
			return nil, fmt.Errorf("config: STORAGE_MAX_SIZE: %q: %w", raw, err)
		}
		return uint64(bs) / (1024 * 1024), nil
	default:
		return raw, nil
	}
}

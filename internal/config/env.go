package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zendure-tools/zendure-poller/internal/logging"
)

// Environment variables that override preferences
const (
	DiscoverTimeoutEnvVar = "ZENDURE_DISCOVER_TIMEOUT"
	ReportPathEnvVar      = "ZENDURE_REPORT_PATH"
	ListenEnvVar          = "ZENDURE_LISTEN"
	RedisURLEnvVar        = "ZENDURE_REDIS_URL"
)

var (
	dotenvOnce    sync.Once
	dotenvPath    string
	dotenvLoadErr error
)

// LoadDotEnv loads the first .env file found from the working directory up
// to the filesystem root. Variables already set in the environment win.
// Subsequent calls are no-ops. Under go test nothing is loaded unless
// GOTEST_LOAD_DOTENV=1.
func LoadDotEnv() error {
	if runningUnderGoTest() && os.Getenv("GOTEST_LOAD_DOTENV") != "1" {
		return nil
	}
	dotenvOnce.Do(func() {
		wd, err := os.Getwd()
		if err != nil {
			dotenvLoadErr = err
			return
		}
		path, err := findDotEnv(wd)
		if err != nil {
			dotenvLoadErr = err
			logging.Debug("Search for .env failed", zap.Error(err))
			return
		}
		if path == "" {
			return
		}
		if err := godotenv.Load(path); err != nil {
			dotenvLoadErr = err
			logging.Warn("Loading .env failed", zap.String("dotenv", path), zap.Error(err))
			return
		}
		dotenvPath = path
		logging.Debug("Loaded .env", zap.String("dotenv", path))
	})
	return dotenvLoadErr
}

// DotEnvPath returns the .env path that was loaded, or "".
func DotEnvPath() string {
	return dotenvPath
}

func runningUnderGoTest() bool {
	if strings.HasSuffix(os.Args[0], ".test") {
		return true
	}
	for _, arg := range os.Args[1:] {
		if strings.HasPrefix(arg, "-test.") {
			return true
		}
	}
	return false
}

func findDotEnv(dir string) (string, error) {
	for {
		candidate := filepath.Join(dir, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// ApplyEnv overrides preferences from ZENDURE_* environment variables.
// Unparsable values are ignored.
func (p *Preferences) ApplyEnv() {
	if val := strings.TrimSpace(os.Getenv(DiscoverTimeoutEnvVar)); val != "" {
		if secs, err := strconv.Atoi(val); err == nil && secs > 0 {
			p.DiscoverTimeout = secs
		}
	}
	if val := strings.TrimSpace(os.Getenv(ReportPathEnvVar)); val != "" {
		p.ReportPath = val
	}
	if val := strings.TrimSpace(os.Getenv(ListenEnvVar)); val != "" {
		p.Listen = val
	}
	if val := strings.TrimSpace(os.Getenv(RedisURLEnvVar)); val != "" {
		p.RedisURL = val
	}
}

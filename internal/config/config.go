// Package config parses the agent's flags and environment variables with
// flag > env > default precedence, matching the teacher binaries'
// envOrDefault pattern (implemented here by firstNonEmpty).
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Config holds every tunable recognized by the agent (spec §4.A).
type Config struct {
	Addr                string
	WorkspacePath       string
	MaxFileSize         int64
	Token               string
	TokenAutoGenerated  bool
	LogLevel            string
	MaxConcurrentReads  int
	ExcludedPorts       map[int]struct{}
}

const (
	defaultAddr               = ":9757"
	defaultMaxFileSize  int64 = 100 << 20 // 100 MiB
	defaultLogLevel           = "info"
)

// defaultWorkspacePath mirrors the two conventional roots named in spec
// §4.A: prefer /workspace, fall back to /home/devbox/project when the
// former does not exist on disk.
func defaultWorkspacePath() string {
	if _, err := os.Stat("/workspace"); err == nil {
		return "/workspace"
	}
	return "/home/devbox/project"
}

// Load builds a Config from explicit flag values (as parsed by cobra in
// cmd/sandboxagent) falling back to environment variables and finally to
// defaults. An empty field in flags means "not set on the command line".
func Load(flags Flags) (*Config, error) {
	cfg := &Config{}

	cfg.Addr = firstNonEmpty(flags.Addr, os.Getenv("ADDR"), defaultAddr)
	cfg.WorkspacePath = firstNonEmpty(flags.WorkspacePath, os.Getenv("WORKSPACE_PATH"), defaultWorkspacePath())

	maxFileSizeRaw := firstNonEmpty(flags.MaxFileSize, os.Getenv("MAX_FILE_SIZE"), "")
	if maxFileSizeRaw == "" {
		cfg.MaxFileSize = defaultMaxFileSize
	} else {
		size, err := strconv.ParseInt(maxFileSizeRaw, 10, 64)
		if err != nil || size <= 0 {
			return nil, fmt.Errorf("config: invalid MAX_FILE_SIZE %q", maxFileSizeRaw)
		}
		cfg.MaxFileSize = size
	}

	token := firstNonEmpty(flags.Token, os.Getenv("TOKEN"), os.Getenv("DEVBOX_JWT_SECRET"))
	if token == "" {
		generated, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("config: failed to generate token: %w", err)
		}
		cfg.Token = generated
		cfg.TokenAutoGenerated = true
	} else {
		cfg.Token = token
	}

	cfg.LogLevel = normalizeLogLevel(firstNonEmpty(flags.LogLevel, os.Getenv("LOG_LEVEL"), defaultLogLevel))

	maxReadsRaw := firstNonEmpty(flags.MaxConcurrentReads, os.Getenv("MAX_CONCURRENT_READS"), "")
	if maxReadsRaw == "" {
		cfg.MaxConcurrentReads = clamp(2*runtime.NumCPU(), 1, 32)
	} else {
		n, err := strconv.Atoi(maxReadsRaw)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("config: invalid MAX_CONCURRENT_READS %q", maxReadsRaw)
		}
		cfg.MaxConcurrentReads = clamp(n, 1, 32)
	}

	excludedRaw := firstNonEmpty(flags.ExcludedPorts, os.Getenv("EXCLUDED_PORTS"), "")
	cfg.ExcludedPorts = parseExcludedPorts(excludedRaw)

	return cfg, nil
}

// Flags carries the raw string values bound to cobra flags. Empty string
// means the flag was not explicitly set.
type Flags struct {
	Addr                string
	WorkspacePath       string
	MaxFileSize         string
	Token               string
	LogLevel            string
	MaxConcurrentReads  string
	ExcludedPorts       string
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func normalizeLogLevel(level string) string {
	switch level {
	case "debug", "info", "warn", "error":
		return level
	default:
		return defaultLogLevel
	}
}

func clamp(n, min, max int) int {
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func generateToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func parseExcludedPorts(raw string) map[int]struct{} {
	ports := make(map[int]struct{})
	if raw == "" {
		return ports
	}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.Atoi(part); err == nil {
			ports[n] = struct{}{}
		}
	}
	return ports
}

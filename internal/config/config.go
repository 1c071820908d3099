// Package config centralizes environment-variable resolution for the
// chat client: manifest search roots, transport timeout/proxy overrides,
// strict-streaming toggles, and per-provider credential lookup.
package config

import (
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

var loadOnce sync.Once

// loadDotenv loads a .env file into the process environment, once. Missing
// .env files are not an error; most deployments set real environment
// variables directly.
func loadDotenv() {
	loadOnce.Do(func() {
		_ = godotenv.Load()
	})
}

// ManifestSearchRoot resolves AI_PROTOCOL_DIR / AI_PROTOCOL_PATH, in that
// order. Returns "" if neither is set, letting the caller fall back to its
// own conventional search paths.
func ManifestSearchRoot() string {
	loadDotenv()
	if v := os.Getenv("AI_PROTOCOL_DIR"); v != "" {
		return v
	}
	return os.Getenv("AI_PROTOCOL_PATH")
}

// TransportTimeout resolves AI_HTTP_TIMEOUT_SECS / AI_TIMEOUT_SECS as an
// environment override of a Manifest's declared timeout. ok is false when
// neither variable is set or parses.
func TransportTimeout() (d time.Duration, ok bool) {
	loadDotenv()
	for _, name := range []string{"AI_HTTP_TIMEOUT_SECS", "AI_TIMEOUT_SECS"} {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	return 0, false
}

// TrustEnvProxy reports whether AI_HTTP_TRUST_ENV == "1", i.e. the process
// proxy environment (HTTP_PROXY/HTTPS_PROXY/NO_PROXY) should be honored.
// Default is direct connection, ignoring the process environment entirely.
func TrustEnvProxy() bool {
	loadDotenv()
	return os.Getenv("AI_HTTP_TRUST_ENV") == "1"
}

// ProxyURL resolves AI_PROXY_URL. Only meaningful when TrustEnvProxy is true.
func ProxyURL() string {
	loadDotenv()
	return os.Getenv("AI_PROXY_URL")
}

// StrictStreaming reports whether AI_LIB_STRICT_STREAMING == "1".
func StrictStreaming() bool {
	loadDotenv()
	return os.Getenv("AI_LIB_STRICT_STREAMING") == "1"
}

// Credential resolves a provider's API credential: an explicit override
// first (e.g. passed by the caller at construction time), else the
// Manifest-declared environment variable named by tokenEnv.
func Credential(override, tokenEnv string) string {
	if override != "" {
		return override
	}
	if tokenEnv == "" {
		return ""
	}
	loadDotenv()
	return os.Getenv(tokenEnv)
}

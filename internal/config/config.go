// Package config loads the gateway settings from the environment.
package config

import (
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full runtime configuration.
type Config struct {
	HTTPBind     string
	UploadDir    string
	StaticDir    string
	FeaturesFile string
	Production   bool
	ToolTimeout  time.Duration
	CORSOrigins  []string

	Tools Tools

	PostgresDSN string

	ArchiveConnectors []string
	ArchiveStrict     bool
}

// Tools names the external executables and the directory holding the Python
// helper scripts.
type Tools struct {
	Ghostscript string
	Soffice     string
	OCR         string
	Python      string
	ScriptsDir  string
}

// Script is the path of a helper script under ScriptsDir.
func (t Tools) Script(name string) string {
	return filepath.Join(t.ScriptsDir, name)
}

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// LoadDotEnv reads an optional .env file into the process environment.
// Variables already set win over the file.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	bind := env("HTTP_BIND", "")
	if bind == "" {
		bind = ":" + env("PORT", "3000")
	}
	cfg := Config{
		HTTPBind:     sanitizeListenAddr(bind),
		UploadDir:    env("UPLOAD_DIR", "tmp"),
		StaticDir:    env("STATIC_DIR", "public"),
		FeaturesFile: env("FEATURES_FILE", "features.json"),
		Production:   isProduction(),
		ToolTimeout:  durationEnv("TOOL_TIMEOUT", 5*time.Minute),
		CORSOrigins:  listEnv("CORS_ORIGINS"),
		PostgresDSN:  env("POSTGRES_DSN", ""),

		ArchiveConnectors: listEnv("ARCHIVE_CONNECTORS"),
		ArchiveStrict:     boolEnv("ARCHIVE_STRICT", false),
	}
	cfg.Tools = Tools{
		Ghostscript: env("GS_BIN", "gs"),
		Soffice:     env("SOFFICE_BIN", "soffice"),
		OCR:         env("OCR_BIN", "ocrmypdf"),
		ScriptsDir:  env("TOOLS_DIR", "tools"),
	}
	cfg.Tools.Python = env("PYTHON_BIN", "")
	if cfg.Tools.Python == "" {
		cfg.Tools.Python = FindPython(".")
	}
	return cfg
}

// FindPython picks the interpreter for the helper scripts: a project venv
// first, then whatever python3 or python is on PATH. Falls back to "python3"
// so the failure surfaces as a tool error at request time.
func FindPython(root string) string {
	for _, rel := range []string{
		filepath.Join("venv", "bin", "python"),
		filepath.Join("venv", "Scripts", "python.exe"),
	} {
		p := filepath.Join(root, rel)
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p
		}
	}
	for _, name := range []string{"python3", "python"} {
		if p, err := lookPath(name); err == nil {
			return p
		}
	}
	return "python3"
}

func isProduction() bool {
	mode := env("APP_ENV", "")
	if mode == "" {
		mode = env("NODE_ENV", "")
	}
	return strings.EqualFold(strings.TrimSpace(mode), "production")
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func boolEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return parsed
		}
	}
	return def
}

func durationEnv(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	// bare integers are seconds
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

func listEnv(key string) []string {
	raw := os.Getenv(key)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// sanitizeListenAddr trims whitespace/comments so malformed env values (e.g. ":3000 # dev") do not break net.Listen.
func sanitizeListenAddr(value string) string {
	trimmed := strings.TrimSpace(value)
	if fields := strings.Fields(trimmed); len(fields) > 0 {
		trimmed = fields[0]
	}
	return strings.Trim(trimmed, "\"'")
}

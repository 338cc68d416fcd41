package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aesdsocket.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultMatchesReferenceConstants(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv(EnvAddr, "")
	t.Setenv(EnvDataPath, "")
	t.Setenv(EnvMetricsAddr, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := Config{
		Addr:      "0.0.0.0:9000",
		DataPath:  "/var/tmp/aesdsocketdata",
		Backlog:   10,
		ChunkSize: 1024,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("default config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadIgnoresFilesUnlessNamed(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv(EnvAddr, "")
	t.Setenv(EnvDataPath, "")
	t.Setenv(EnvMetricsAddr, "")
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "aesdsocket.toml"), []byte("addr = \"127.0.0.1:1\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	chdir(t, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("config read without %s (-want +got):\n%s", EnvConfigPath, diff)
	}
}

func TestLoadFileOverlaysDefinedKeys(t *testing.T) {
	path := writeConfig(t, `
addr = "127.0.0.1:9100"
chunk_size = 16
read_timeout = "3s"
metrics_addr = "127.0.0.1:9101"
`)
	cfg, err := LoadFile(path, Default())
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	want := Default()
	want.Addr = "127.0.0.1:9100"
	want.ChunkSize = 16
	want.ReadTimeout = 3 * time.Second
	want.MetricsAddr = "127.0.0.1:9101"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFileRejectsUnknownKey(t *testing.T) {
	path := writeConfig(t, `port = 9000`)
	_, err := LoadFile(path, Default())
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoadFileBadDuration(t *testing.T) {
	path := writeConfig(t, `write_timeout = "soon"`)
	if _, err := LoadFile(path, Default()); err == nil {
		t.Fatalf("expected duration parse error")
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := writeConfig(t, `data_path = "/tmp/from-file"`)
	t.Setenv(EnvConfigPath, path)
	t.Setenv(EnvAddr, "")
	t.Setenv(EnvMetricsAddr, "")
	t.Setenv(EnvDataPath, "/tmp/from-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataPath != "/tmp/from-env" {
		t.Fatalf("data path = %q, want env override", cfg.DataPath)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"empty addr":       func(c *Config) { c.Addr = " " },
		"empty path":       func(c *Config) { c.DataPath = "" },
		"zero backlog":     func(c *Config) { c.Backlog = 0 },
		"zero chunk":       func(c *Config) { c.ChunkSize = 0 },
		"negative timeout": func(c *Config) { c.ReadTimeout = -time.Second },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", name, err)
		}
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestRelativePathsResolveForChild(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	if err := os.WriteFile("local.toml", []byte(`backlog = 4`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(EnvConfigPath, "local.toml")
	t.Setenv(EnvAddr, "")
	t.Setenv(EnvMetricsAddr, "")
	t.Setenv(EnvDataPath, "data/aesdsocketdata")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backlog != 4 {
		t.Fatalf("backlog = %d, want 4", cfg.Backlog)
	}
	if !filepath.IsAbs(cfg.DataPath) {
		t.Fatalf("data path not absolute: %q", cfg.DataPath)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	env, err := cfg.ChildEnv()
	if err != nil {
		t.Fatalf("child env: %v", err)
	}
	want := []string{
		EnvDataPath + "=" + cfg.DataPath,
		EnvConfigPath + "=" + filepath.Join(wd, "local.toml"),
	}
	if diff := cmp.Diff(want, env); diff != "" {
		t.Fatalf("child env mismatch (-want +got):\n%s", diff)
	}
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains: it changes
// the working directory for the rest of the test and restores it on cleanup.
func chdir(t *testing.T, dir string) {
	t.Helper()
	oldwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	oldPWD, hadPWD := os.LookupEnv("PWD")
	if abs, err := filepath.Abs(dir); err == nil {
		os.Setenv("PWD", abs)
	}
	t.Cleanup(func() {
		if hadPWD {
			os.Setenv("PWD", oldPWD)
		} else {
			os.Unsetenv("PWD")
		}
		if err := os.Chdir(oldwd); err != nil {
			panic("testing: chdir back to " + oldwd + ": " + err.Error())
		}
	})
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "canvasConfig.yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Running.Port != 8080 || cfg.Log.Backend != BackendRedis || cfg.Log.ReplayBatch != 100 {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.WS.DeliverTimeout != time.Second || cfg.WS.MaxFailures != 3 {
		t.Fatalf("ws defaults = %+v", cfg.WS)
	}
	if !cfg.NeedsRedis() {
		t.Fatalf("default backends should need redis")
	}
}

func TestLoad_File(t *testing.T) {
	dir := writeConfig(t, `
running:
  port: 9000
log:
  backend: memory
  replay_batch: 25
pubsub:
  backend: memory
ws:
  deliver_timeout: 250ms
kafka:
  brokers: ["127.0.0.1:9092"]
  topic: canvas
`)
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Running.Port != 9000 || cfg.Log.ReplayBatch != 25 || cfg.WS.DeliverTimeout != 250*time.Millisecond {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.NeedsRedis() {
		t.Fatalf("memory backends should not need redis")
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Topic != "canvas" {
		t.Fatalf("kafka = %+v", cfg.Kafka)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CANVAS_RUNNING_PORT", "7000")
	t.Setenv("CANVAS_LOG_BACKEND", "memory")
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Running.Port != 7000 || cfg.Log.Backend != BackendMemory {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown log backend": "log:\n  backend: sqlite\n",
		"mysql without dsn":   "log:\n  backend: mysql\n",
		"unknown pubsub":      "pubsub:\n  backend: nats\n",
		"bad port":            "running:\n  port: 70000\n",
		"kafka without topic": "kafka:\n  brokers: [\"b:9092\"]\n  topic: \"\"\n",
		"zero replay batch":   "log:\n  replay_batch: 0\n",
		"zero write timeout":  "ws:\n  write_timeout: 0s\n",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil || !strings.HasPrefix(err.Error(), "config:") {
			t.Fatalf("%s: err = %v", name, err)
		}
	}
}

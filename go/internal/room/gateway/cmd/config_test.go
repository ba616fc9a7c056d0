package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/studysync/go/internal/room/gateway"
	"github.com/mcdev12/studysync/go/internal/room/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "studyroom.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	config, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if config.Store.Driver != "memory" || config.HistoryLimit != 50 {
		t.Errorf("defaults = %+v", config)
	}
	if diff := cmp.Diff(store.DefaultWriterConfig(), config.writerConfig()); diff != "" {
		t.Errorf("writer config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
port: "9000"
log_level: debug
history_limit: 20
store:
  driver: redis
  workers: 2
  op_timeout: 750ms
redis:
  url: redis://cache:6379/1
websocket:
  ping_interval: 15s
  send_buffer_size: 64
cors:
  allowed_origins: ["https://rooms.example"]
`)
	t.Setenv("HISTORY_LIMIT", "75")
	t.Setenv("JWT_SECRET", "from-env")

	config, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if config.Port != "9000" || config.Store.Driver != "redis" || config.Redis.URL != "redis://cache:6379/1" {
		t.Errorf("file values not applied: %+v", config)
	}
	if config.HistoryLimit != 75 || config.JWTSecret != "from-env" {
		t.Errorf("env overrides not applied: history=%d secret=%q", config.HistoryLimit, config.JWTSecret)
	}

	w := config.writerConfig()
	if w.Workers != 2 || w.OpTimeout != 750*time.Millisecond || w.QueueSize != store.DefaultWriterConfig().QueueSize {
		t.Errorf("writer config = %+v", w)
	}

	g := config.gatewayConfig()
	if g.ConnectionConfig.PingInterval != 15*time.Second || g.ConnectionConfig.SendBufferSize != 64 {
		t.Errorf("connection config = %+v", g.ConnectionConfig)
	}
	if g.ConnectionConfig.ReadTimeout != gateway.DefaultConnectionConfig().ReadTimeout {
		t.Errorf("read timeout default lost: %v", g.ConnectionConfig.ReadTimeout)
	}
	if g.HistoryLimit != 75 || g.JWTSecret != "from-env" {
		t.Errorf("gateway config = %+v", g)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown driver", "store:\n  driver: cassandra\n"},
		{"negative history", "history_limit: -1\n"},
		{"bad level", "log_level: loud\n"},
		{"malformed yaml", "store: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := loadConfig(writeConfig(t, tt.body)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestSetupLoggingJSON(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	config := defaultConfig()
	config.LogFormat = "json"
	config.LogLevel = "warn"
	setupLogging(config, &buf)

	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Errorf("level = %v", zerolog.GlobalLevel())
	}

	log.Info().Msg("hidden")
	log.Warn().Str("room", "calc-2").Msg("shown")
	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if line["room"] != "calc-2" || line["message"] != "shown" {
		t.Errorf("log line = %v", line)
	}
}

func TestHandlerRoutes(t *testing.T) {
	config := defaultConfig()
	writer := store.NewWriter(store.NewMemory(), config.writerConfig())
	defer writer.Close()
	svc := gateway.NewService(config.gatewayConfig(), clockwork.NewFakeClock(), writer, nil)

	srv := httptest.NewServer(newHandler(config, svc))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Errorf("/health status = %d", res.StatusCode)
	}

	res, err = http.Get(srv.URL + "/info")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	var info map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if info["store"] != "memory" || info["connections"] != float64(0) {
		t.Errorf("/info = %v", info)
	}

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/health", nil)
	req.Header.Set("Origin", "https://rooms.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if got := res.Header.Get("Access-Control-Allow-Origin"); !strings.Contains(got, "*") && got != "https://rooms.example" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleYAML = `
telegram:
  official_token: ${OFFICIAL_TOKEN}
  student_token: "student"
  auth_url_base: "https://auth.example.com/"
auth:
  jwt_secret: ${JWT_SECRET}
storage:
  driver: memory
dispatch:
  rate_per_sec: 10
  send_timeout: 5s
logging:
  level: debug
  console: true
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseYAMLWithEnv(t *testing.T) {
	env := map[string]string{"OFFICIAL_TOKEN": `12:ab"c`, "JWT_SECRET": "s3cret"}
	m := NewConfigManager(writeConfig(t, "config.yaml", sampleYAML))
	m.lookup = func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Telegram.OfficialToken != `12:ab"c` {
		t.Fatalf("official token = %q", cfg.Telegram.OfficialToken)
	}
	if cfg.Auth.JWTSecret != "s3cret" || cfg.Dispatch.RatePerSec != 10 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	m := NewConfigManager(writeConfig(t, "config.json", `{"telegram":{},"nope":1}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	m := NewConfigManager(writeConfig(t, "config.json", `{} {}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := &Config{
		Storage:  StorageConfig{Driver: "postgres"},
		Dispatch: DispatchConfig{SendTimeout: "soon"},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"official_token", "jwt_secret", "storage.dsn", "dispatch.send_timeout"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", 0)
	if err != nil || d != 0 {
		t.Fatalf("empty = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("expected negative duration error")
	}
	if got := MustDuration("bogus", 7); got != 7 {
		t.Fatalf("MustDuration fallback = %v", got)
	}
}

func TestChangedSectionsAndRedacted(t *testing.T) {
	a := &Config{Logging: LoggingConfig{Level: "info"}, Auth: AuthConfig{JWTSecret: "k"}}
	b := *a
	b.Logging.Level = "debug"
	got := ChangedSections(a, &b)
	if len(got) != 1 || got[0] != "logging" || !LiveSections[got[0]] {
		t.Fatalf("ChangedSections = %v", got)
	}
	if strings.Contains(Redacted(a), `"k"`) {
		t.Fatal("secret leaked in Redacted output")
	}
}

func TestPublishKeepsNewest(t *testing.T) {
	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)
	first, second := &Config{}, &Config{}
	m.publish(first)
	m.publish(second)
	if got := <-ch; got != second {
		t.Fatal("slow subscriber should receive the newest config")
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after Unsubscribe")
	}
}

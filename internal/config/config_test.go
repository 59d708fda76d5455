package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/hamzaKhattat/pbx-call-control/pkg/errors"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	Prepare(v, "")

	cfg, err := Load(v)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.AGI.Port != 4573 || cfg.AGI.HandshakeTimeout != 10*time.Second ||
		cfg.AGI.CommandTimeout != 30*time.Second || cfg.AGI.DialTimeout != 120*time.Second {
		t.Errorf("agi = %+v", cfg.AGI)
	}
	if cfg.Recording.Dir != "/var/spool/asterisk/monitor" || cfg.Recording.Prefix != "call" {
		t.Errorf("recording = %+v", cfg.Recording)
	}
	if cfg.Outbound.RelayAddress != "127.0.0.1:9092" {
		t.Errorf("relay = %q", cfg.Outbound.RelayAddress)
	}
	if cfg.Monitoring.Metrics.Port != 9090 || cfg.Monitoring.Health.Port != 8080 {
		t.Errorf("monitoring = %+v", cfg.Monitoring)
	}
	if cfg.Asterisk.AMI.Host != "" {
		t.Errorf("ami host = %q, want unset", cfg.Asterisk.AMI.Host)
	}
}

func TestFileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "callcontrol.yaml")
	yaml := []byte(`
agi:
  port: 4600
  command_timeout: 5s
database:
  host: db.internal
ivr:
  prompts:
    closed: custom/closed
asterisk:
  ami:
    host: pbx.internal
`)
	if err := os.WriteFile(path, yaml, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CALLCONTROL_AGI_PORT", "4700")

	v := viper.New()
	Prepare(v, path)

	cfg, err := Load(v)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.AGI.Port != 4700 {
		t.Errorf("port = %d, want environment override", cfg.AGI.Port)
	}
	if cfg.AGI.CommandTimeout != 5*time.Second {
		t.Errorf("command timeout = %v", cfg.AGI.CommandTimeout)
	}
	if got := cfg.DB(); got.Host != "db.internal" || got.Port != 3306 {
		t.Errorf("db = %+v", got)
	}
	if got := cfg.Prompts(); got.Closed != "custom/closed" || got.Goodbye != "" {
		t.Errorf("prompts = %+v", got)
	}
	if got := cfg.AMI(); got.Host != "pbx.internal" || got.Port != 5038 {
		t.Errorf("ami = %+v", got)
	}
	if got := cfg.Server(); got.Port != 4700 || got.DialTimeout != 120*time.Second {
		t.Errorf("server = %+v", got)
	}
}

func TestUnreadableFile(t *testing.T) {
	v := viper.New()
	Prepare(v, filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(v); !errors.Is(err, errors.ErrConfiguration) {
		t.Fatalf("err = %v", err)
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadNodeConfigDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
device_id = 42
device_tag = "cam02"
peer_host = "192.168.4.1"

[ports]
image_tcp = 2222

[queue]
submit_wait = "250ms"

[transfer]
tcp_retry_attempts = 6
udp_packet_interval = "20ms"
`)
	cfg, err := LoadNodeConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DeviceID != 42 || cfg.DeviceTag != "cam02" || cfg.PeerHost != "192.168.4.1" {
		t.Fatalf("unexpected identity: %+v", cfg)
	}
	if cfg.Ports.ImageTCP != 2222 || cfg.Ports.GeneralTCP != 9999 || cfg.Ports.ImageUDP != 4444 {
		t.Fatalf("unexpected ports: %+v", cfg.Ports)
	}
	if cfg.Queue.Capacity != 50 || cfg.Queue.SubmitWait.Duration != 250*time.Millisecond {
		t.Fatalf("unexpected queue: %+v", cfg.Queue)
	}
	if cfg.Transfer.TCPRetryAttempts != 6 || cfg.Transfer.UDPRetryAttempts != 3 {
		t.Fatalf("unexpected retry attempts: %+v", cfg.Transfer)
	}
	if cfg.Transfer.UDPPacketInterval.Duration != 20*time.Millisecond || cfg.Transfer.RetryDelay.Duration != 10*time.Millisecond {
		t.Fatalf("unexpected transfer timings: %+v", cfg.Transfer)
	}
	if cfg.Transfer.ReadTimeout.Duration != 0 {
		t.Fatalf("read timeout should default to none, got %v", cfg.Transfer.ReadTimeout)
	}
}

func TestLoadNodeConfigSQLiteDefaultPath(t *testing.T) {
	path := writeConfig(t, `
[journal]
driver = "SQLite"
`)
	cfg, err := LoadNodeConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Journal.Driver != JournalSQLite || cfg.Journal.Path != "local/journal.db" {
		t.Fatalf("unexpected journal: %+v", cfg.Journal)
	}
}

func TestLoadNodeConfigRejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":    "bogus = 1\n",
		"bad duration":   "[queue]\nsubmit_wait = \"soon\"\n",
		"long tag":       "device_tag = \"abcdefghijk\"\n",
		"dashed tag":     "device_tag = \"a-b\"\n",
		"zero capacity":  "[queue]\ncapacity = 0\n",
		"tiny udp":       "[transfer]\nudp_packet_size = 10\n",
		"unknown driver": "[journal]\ndriver = \"redis\"\n",
		"big device id":  "device_id = 1000000000\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadNodeConfig(writeConfig(t, content)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadPeerConfig(t *testing.T) {
	path := writeConfig(t, `
listen_host = ""
output_dir = "out"
reply_data = "pong"

[ports]
general_tcp = 19999
image_tcp = 11111
image_udp = 14444
receive_data_udp = 18888
`)
	cfg, err := LoadPeerConfig(path)
	if err != nil {
		t.Fatalf("load peer config: %v", err)
	}
	if cfg.ListenHost != "0.0.0.0" || cfg.OutputDir != "out" || cfg.ReplyData != "pong" {
		t.Fatalf("unexpected peer config: %+v", cfg)
	}
	if cfg.Ports.GeneralTCP != 19999 || cfg.MaxPayloadBytes == 0 {
		t.Fatalf("unexpected peer ports/limits: %+v", cfg)
	}
}

func TestTemplatesRoundTrip(t *testing.T) {
	for _, kind := range []string{KindNode, KindPeer} {
		dir := t.TempDir()
		path := filepath.Join(dir, kind+".toml")
		if err := WriteTemplate(path, kind, false); err != nil {
			t.Fatalf("write %s template: %v", kind, err)
		}
		if err := WriteTemplate(path, kind, false); err == nil {
			t.Fatalf("expected refusal to overwrite %s template", kind)
		}
		if err := Validate(path, kind); err != nil {
			t.Fatalf("validate %s template: %v", kind, err)
		}
	}
	if _, err := Template("mirage"); err == nil || !strings.Contains(err.Error(), "unknown config kind") {
		t.Fatalf("expected unknown kind error, got %v", err)
	}
}

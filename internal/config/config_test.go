package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/mnemo/internal/device"
	"github.com/banshee-data/mnemo/internal/mnemo"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Device.Port != "auto" {
		t.Errorf("Device.Port = %q, want auto", cfg.Device.Port)
	}
	if p, _ := cfg.Device.ProtocolVersion(); p != device.ProtocolV1 {
		t.Errorf("ProtocolVersion() = %v, want v1", p)
	}
	if cfg.Decode.ScanLimit != mnemo.DEFAULT_LIMIT {
		t.Errorf("Decode.ScanLimit = %d, want %d", cfg.Decode.ScanLimit, mnemo.DEFAULT_LIMIT)
	}
	if cfg.Firmware.BaudRate != 460800 {
		t.Errorf("Firmware.BaudRate = %d, want 460800", cfg.Firmware.BaudRate)
	}
	if cfg.Store.Path != DefaultDBPath || cfg.Server.Listen != DefaultListen {
		t.Errorf("unexpected store/server defaults: %+v %+v", cfg.Store, cfg.Server)
	}
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, "mnemo.toml", `
[device]
port = "/dev/ttyACM0"
protocol = 2

[device.serial]
baud_rate = 19200
parity = "even"

[decode]
strict = true
trim_name = true
absolute_scan_limit = true
format = "yaml"

[store]
path = "/var/lib/mnemo/surveys.db"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Device.Port != "/dev/ttyACM0" || cfg.Device.Protocol != 2 {
		t.Errorf("unexpected device section: %+v", cfg.Device)
	}
	if cfg.Device.Serial.BaudRate != 19200 || cfg.Device.Serial.Parity != "even" {
		t.Errorf("unexpected serial section: %+v", cfg.Device.Serial)
	}
	if cfg.Store.Path != "/var/lib/mnemo/surveys.db" {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}
	// unset keys keep their defaults
	if cfg.Server.Listen != DefaultListen {
		t.Errorf("Server.Listen = %q, want default", cfg.Server.Listen)
	}
	if cfg.Decode.ScanLimit != mnemo.DEFAULT_LIMIT {
		t.Errorf("Decode.ScanLimit = %d, want default", cfg.Decode.ScanLimit)
	}

	opts := cfg.Decode.Options()
	want := mnemo.Options{Strict: true, TrimName: true, ScanLimit: mnemo.DEFAULT_LIMIT, AbsoluteScanLimit: true}
	if opts != want {
		t.Errorf("Options() = %+v, want %+v", opts, want)
	}
}

func TestLoadConfigMissing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"wrong extension", "mnemo.json", `{}`, ".toml extension"},
		{"bad syntax", "mnemo.toml", "[device\nport = 1", "failed to parse"},
		{"unknown key", "mnemo.toml", "[device]\nspeed = 9600\n", "speed"},
		{"bad protocol", "mnemo.toml", "[device]\nprotocol = 3\n", "device.protocol"},
		{"bad parity", "mnemo.toml", "[device.serial]\nparity = \"mark\"\n", "device.serial"},
		{"bad baud", "mnemo.toml", "[firmware]\nbaud_rate = 1234\n", "firmware.baud_rate"},
		{"negative limit", "mnemo.toml", "[decode]\nscan_limit = -1\n", "scan_limit"},
		{"bad format", "mnemo.toml", "[decode]\nformat = \"xml\"\n", "decode.format"},
		{"empty store", "mnemo.toml", "[store]\npath = \"\"\n", "store.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.file, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfigTooLarge(t *testing.T) {
	big := "# " + strings.Repeat("x", maxFileSize) + "\n"
	_, err := LoadConfig(writeConfig(t, "big.toml", big))
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("expected size error, got %v", err)
	}
}

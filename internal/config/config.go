// Package config loads the mnemo TOML configuration file. Command line flags
// override whatever it sets.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/banshee-data/mnemo/internal/device"
	"github.com/banshee-data/mnemo/internal/mnemo"
	"github.com/banshee-data/mnemo/internal/render"
)

// Default file locations.
const (
	DefaultConfigName = "mnemo.toml"
	DefaultDBPath     = "mnemo.db"
	DefaultListen     = ":8080"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the root of the configuration file.
type Config struct {
	Device   DeviceConfig   `toml:"device"`
	Decode   DecodeConfig   `toml:"decode"`
	Firmware FirmwareConfig `toml:"firmware"`
	Store    StoreConfig    `toml:"store"`
	Server   ServerConfig   `toml:"server"`
}

// DeviceConfig selects the serial port used for downloads.
type DeviceConfig struct {
	// Port is a device path, or "auto" to find the device by USB id.
	Port     string             `toml:"port"`
	Protocol int                `toml:"protocol"`
	Serial   device.PortOptions `toml:"serial"`
}

// DecodeConfig mirrors mnemo.Options plus the output format.
type DecodeConfig struct {
	Strict            bool   `toml:"strict"`
	TrimName          bool   `toml:"trim_name"`
	ScanLimit         int    `toml:"scan_limit"`
	AbsoluteScanLimit bool   `toml:"absolute_scan_limit"`
	Format            string `toml:"format"`
}

type FirmwareConfig struct {
	BaudRate int `toml:"baud_rate"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

type ServerConfig struct {
	Listen string `toml:"listen"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Port:     "auto",
			Protocol: int(device.ProtocolV1),
			Serial:   device.PortOptions{BaudRate: device.DefaultBaudRate},
		},
		Decode: DecodeConfig{
			ScanLimit: mnemo.DEFAULT_LIMIT,
			Format:    string(render.FormatJSON),
		},
		Firmware: FirmwareConfig{BaudRate: device.FirmwareBaudRate},
		Store:    StoreConfig{Path: DefaultDBPath},
		Server:   ServerConfig{Listen: DefaultListen},
	}
}

// LoadConfig reads a TOML file on top of Default. The file must have a .toml
// extension and be under 1MB; unknown keys are rejected.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".toml" {
		return nil, fmt.Errorf("config file must have .toml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("failed to parse config TOML: %s", strict.String())
		}
		return nil, fmt.Errorf("failed to parse config TOML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if _, err := c.Device.ProtocolVersion(); err != nil {
		return err
	}
	if _, err := c.Device.Serial.Normalize(); err != nil {
		return fmt.Errorf("device.serial: %w", err)
	}
	if c.Decode.ScanLimit < 0 {
		return fmt.Errorf("decode.scan_limit must be non-negative, got %d", c.Decode.ScanLimit)
	}
	if _, err := render.ParseFormat(c.Decode.Format); err != nil {
		return fmt.Errorf("decode.format: %w", err)
	}
	if _, err := c.Device.Serial.WithBaudRate(c.Firmware.BaudRate).Normalize(); err != nil {
		return fmt.Errorf("firmware.baud_rate: %w", err)
	}
	if c.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	if c.Server.Listen == "" {
		return errors.New("server.listen must not be empty")
	}
	return nil
}

// ProtocolVersion returns the configured download protocol.
func (d DeviceConfig) ProtocolVersion() (device.Protocol, error) {
	switch p := device.Protocol(d.Protocol); p {
	case device.ProtocolV1, device.ProtocolV2:
		return p, nil
	default:
		return 0, fmt.Errorf("device.protocol must be 1 or 2, got %d", d.Protocol)
	}
}

// Options converts the decode section to decoder options.
func (d DecodeConfig) Options() mnemo.Options {
	return mnemo.Options{
		Strict:            d.Strict,
		TrimName:          d.TrimName,
		ScanLimit:         d.ScanLimit,
		AbsoluteScanLimit: d.AbsoluteScanLimit,
	}
}

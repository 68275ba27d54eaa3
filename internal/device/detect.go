package device

import (
	"errors"
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

// USB identifiers of the device's serial bridge.
const (
	VendorID  = "04D8"
	ProductID = "00DD"
)

// ErrNotFound is returned by Detect when no attached port matches the device.
var ErrNotFound = errors.New("no mnemo device found")

// PortInfo describes one serial port visible to the host.
type PortInfo struct {
	Name    string
	USB     bool
	VID     string
	PID     string
	Serial  string
	Product string
}

// IsMnemo reports whether the port carries the device's USB identifiers.
func (p PortInfo) IsMnemo() bool {
	return p.USB && strings.EqualFold(p.VID, VendorID) && strings.EqualFold(p.PID, ProductID)
}

// listPorts is replaced in tests.
var listPorts = func() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:    d.Name,
			USB:     d.IsUSB,
			VID:     d.VID,
			PID:     d.PID,
			Serial:  d.SerialNumber,
			Product: d.Product,
		})
	}
	return ports, nil
}

// Ports lists the serial ports attached to the host.
func Ports() ([]PortInfo, error) {
	ports, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	return ports, nil
}

// Detect returns the path of the first attached port that looks like a
// mnemo.
func Detect() (string, error) {
	ports, err := Ports()
	if err != nil {
		return "", err
	}
	for _, p := range ports {
		if p.IsMnemo() {
			return p.Name, nil
		}
	}
	return "", ErrNotFound
}

// Resolve returns path unchanged, or the detected device when path is empty
// or "auto".
func Resolve(path string) (string, error) {
	if path != "" && path != "auto" {
		return path, nil
	}
	return Detect()
}

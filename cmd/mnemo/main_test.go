package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/mnemo/internal/device"
	"github.com/banshee-data/mnemo/internal/dump"
	"github.com/banshee-data/mnemo/internal/mnemo"
	"github.com/banshee-data/mnemo/internal/monitoring"
)

// surveyBytes is one survey named ABC with a standard shot and its EOC.
var surveyBytes = []byte{
	2, 20, 5, 15, 10, 30, 'A', 'B', 'C', 0,
	2, 0x03, 0xE8, 0x03, 0xF2, 0x01, 0xF4, 0x00, 0x64, 0x00, 0xC8, 0xFF, 0x9C, 0x00, 0x32, 0,
	3, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// badHeader has the wrong magic.
var badHeader = []byte{9, 20, 5, 15, 10, 30, 'X', 'Y', 'Z', 1}

func testApp(t *testing.T) *app {
	t.Helper()
	t.Cleanup(func() {
		monitoring.SetLogger(log.Printf)
		monitoring.SetVerbose(false)
	})
	a := newApp()
	a.resolve = func(path string) (string, error) {
		if path == "auto" {
			return "/dev/ttyMNEMO", nil
		}
		return path, nil
	}
	a.ports = func() ([]device.PortInfo, error) { return nil, nil }
	a.open = func(string, device.PortOptions) (device.SerialPorter, error) {
		return nil, errors.New("no device in tests")
	}
	return a
}

func run(t *testing.T, a *app, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(a)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeDump(t *testing.T, data []byte) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, dump.Format(&buf, data))
	path := filepath.Join(t.TempDir(), "survey.dmp")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func decodeJSON(t *testing.T, out string) []map[string]any {
	t.Helper()
	var got []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	return got
}

func TestVersion(t *testing.T) {
	out, _, err := run(t, testApp(t), "", "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "mnemo "), out)
}

func TestDecode_JSON(t *testing.T) {
	path := writeDump(t, surveyBytes)
	out, _, err := run(t, testApp(t), "", "decode", path)
	require.NoError(t, err)

	got := decodeJSON(t, out)
	require.Len(t, got, 1)
	assert.Equal(t, "2020-05-15T10:30:00", got[0]["date"])
	assert.Equal(t, "ABC", got[0]["name"])
	shots := got[0]["shots"].([]any)
	require.Len(t, shots, 2)
	first := shots[0].(map[string]any)
	assert.Equal(t, 100.0, first["head_in"])
	assert.Equal(t, 5.0, first["length"])
	assert.Equal(t, -10.0, first["pitch_in"])
}

func TestDecode_YAMLToFile(t *testing.T) {
	path := writeDump(t, surveyBytes)
	outPath := filepath.Join(t.TempDir(), "out.yaml")
	stdout, _, err := run(t, testApp(t), "", "decode", "--format", "yaml", "-o", outPath, path)
	require.NoError(t, err)
	assert.Empty(t, stdout)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: ABC")
	assert.Contains(t, string(data), "head_in: 100")
}

func TestDecode_Stdin(t *testing.T) {
	var text bytes.Buffer
	require.NoError(t, dump.Format(&text, surveyBytes))
	out, _, err := run(t, testApp(t), text.String(), "decode", "-")
	require.NoError(t, err)
	assert.Len(t, decodeJSON(t, out), 1)
}

func TestDecode_BadHeaderBestEffort(t *testing.T) {
	path := writeDump(t, append(append([]byte{}, surveyBytes...), badHeader...))
	out, stderr, err := run(t, testApp(t), "", "decode", path)
	require.NoError(t, err)
	assert.Len(t, decodeJSON(t, out), 1)
	assert.Contains(t, stderr, "offset 42")
}

func TestDecode_StrictPrintsPartialAndFails(t *testing.T) {
	path := writeDump(t, append(append([]byte{}, surveyBytes...), badHeader...))
	out, _, err := run(t, testApp(t), "", "decode", "--strict", path)

	var he *mnemo.HeaderError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, 42, he.Offset)
	assert.Equal(t, mnemo.InvariantViolation, he.Kind)
	assert.Len(t, decodeJSON(t, out), 1)
}

func TestDecode_FlagErrors(t *testing.T) {
	path := writeDump(t, surveyBytes)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown format", []string{"decode", "--format", "xml", path}, `"xml" (want one of json, yaml, dump)`},
		{"negative scan limit", []string{"decode", "--scan-limit", "-1", path}, "non-negative"},
		{"missing file", []string{"decode", filepath.Join(t.TempDir(), "none.dmp")}, "none.dmp"},
		{"no argument", []string{"decode"}, "accepts 1 arg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := run(t, testApp(t), "", tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfigFileSetsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "mnemo.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[decode]\nformat = \"yaml\"\ntrim_name = true\n"), 0o644))

	path := writeDump(t, surveyBytes)
	out, _, err := run(t, testApp(t), "", "--config", cfgPath, "decode", path)
	require.NoError(t, err)
	assert.Contains(t, out, "name: ABC")

	out, _, err = run(t, testApp(t), "", "--config", cfgPath, "decode", "--format", "json", path)
	require.NoError(t, err)
	assert.Len(t, decodeJSON(t, out), 1)
}

func TestConfigFileInvalid(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "mnemo.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[decode]\nbogus = 1\n"), 0o644))
	_, _, err := run(t, testApp(t), "", "--config", cfgPath, "version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
}

func TestStore_RecordListDelete(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "surveys.db")
	path := writeDump(t, append(append([]byte{}, surveyBytes...), badHeader...))

	out, stderr, err := run(t, testApp(t), "", "store", "--db", dbPath, path)
	require.NoError(t, err)
	assert.Contains(t, out, "survey.dmp\t1 surveys\t2 shots")
	assert.Contains(t, stderr, "stopping")
	id := strings.SplitN(out, "\t", 2)[0]

	out, _, err = run(t, testApp(t), "", "store", "--db", dbPath, "--list")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "true")

	out, _, err = run(t, testApp(t), "", "store", "--db", dbPath, "--delete", id)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted "+id)

	_, _, err = run(t, testApp(t), "", "store", "--db", dbPath, "--delete", id)
	assert.Error(t, err)
}

func TestStore_NoFiles(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "surveys.db")
	_, _, err := run(t, testApp(t), "", "store", "--db", dbPath)
	assert.EqualError(t, err, "no files to store")
}

func TestImport_WritesDumpText(t *testing.T) {
	a := testApp(t)
	port := device.NewTestableSerialPort()
	port.Chunks = [][]byte{surveyBytes[:20], surveyBytes[20:]}
	var opened string
	a.open = func(name string, opts device.PortOptions) (device.SerialPorter, error) {
		opened = name
		return port, nil
	}

	out := filepath.Join(t.TempDir(), "download.dmp")
	_, stderr, err := run(t, a, "", "import", "--v2", out)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyMNEMO", opened)
	assert.Equal(t, []byte("getdata\n"), port.Writes[0])
	assert.True(t, port.Closed)
	assert.Contains(t, stderr, "saved 42 bytes")

	got, err := dump.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, surveyBytes, got)
}

func TestImport_NoData(t *testing.T) {
	a := testApp(t)
	port := device.NewTestableSerialPort()
	a.open = func(string, device.PortOptions) (device.SerialPorter, error) { return port, nil }

	_, _, err := run(t, a, "", "import", "--port", "/dev/ttyUSB0", filepath.Join(t.TempDir(), "x.dmp"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data received from /dev/ttyUSB0")
	assert.Equal(t, []byte{0x43}, port.Writes[0])
}

func TestImport_OpenFails(t *testing.T) {
	_, _, err := run(t, testApp(t), "", "import", filepath.Join(t.TempDir(), "x.dmp"))
	assert.EqualError(t, err, "no device in tests")
}

func TestFwupdate_WarnsAndFailsOnMissingFile(t *testing.T) {
	_, stderr, err := run(t, testApp(t), "", "fwupdate", filepath.Join(t.TempDir(), "firmware.bin"))
	require.Error(t, err)
	assert.Contains(t, stderr, "does not have a .hex extension")
}

func TestFwupdate_UsesBaudRate(t *testing.T) {
	a := testApp(t)
	var baud int
	a.open = func(_ string, opts device.PortOptions) (device.SerialPorter, error) {
		baud = opts.BaudRate
		return nil, errors.New("stop")
	}
	hex := filepath.Join(t.TempDir(), "firmware.hex")
	require.NoError(t, os.WriteFile(hex, []byte(":00000001FF\n"), 0o644))

	_, stderr, err := run(t, a, "", "fwupdate", "--baud", "115200", hex)
	assert.EqualError(t, err, "stop")
	assert.Equal(t, 115200, baud)
	assert.NotContains(t, stderr, "warning")

	_, _, err = run(t, a, "", "fwupdate", hex)
	assert.EqualError(t, err, "stop")
	assert.Equal(t, device.FirmwareBaudRate, baud)
}

func TestPorts(t *testing.T) {
	a := testApp(t)
	a.ports = func() ([]device.PortInfo, error) {
		return []device.PortInfo{
			{Name: "/dev/ttyS0"},
			{Name: "/dev/ttyACM0", USB: true, VID: device.VendorID, PID: device.ProductID, Product: "Mnemo"},
		}, nil
	}
	out, _, err := run(t, a, "", "ports")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "  /dev/ttyS0"), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "* /dev/ttyACM0"), lines[1])
	assert.Contains(t, lines[1], "Mnemo")
}

func TestPorts_None(t *testing.T) {
	out, _, err := run(t, testApp(t), "", "ports")
	require.NoError(t, err)
	assert.Contains(t, out, "no serial ports found")
}

func TestVerboseFlag(t *testing.T) {
	_, _, err := run(t, testApp(t), "", "-v", "version")
	require.NoError(t, err)
	assert.True(t, monitoring.Verbose())
}

func TestStoreMigrate(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "surveys.db")

	out, _, err := run(t, testApp(t), "", "store", "migrate", "status", "--db", dbPath)
	require.NoError(t, err)
	assert.Equal(t, "version 0 of 2\n", out)

	out, _, err = run(t, testApp(t), "", "store", "migrate", "up", "--db", dbPath)
	require.NoError(t, err)
	assert.Equal(t, "version 2 of 2\n", out)

	out, _, err = run(t, testApp(t), "", "store", "--db", dbPath, "migrate", "down")
	require.NoError(t, err)
	assert.Equal(t, "version 1 of 2\n", out)

	out, _, err = run(t, testApp(t), "", "store", "migrate", "to", "2", "--db", dbPath)
	require.NoError(t, err)
	assert.Equal(t, "version 2 of 2\n", out)

	_, _, err = run(t, testApp(t), "", "store", "migrate", "to", "two", "--db", dbPath)
	assert.EqualError(t, err, `invalid version "two"`)

	out, _, err = run(t, testApp(t), "n\n", "store", "migrate", "force", "1", "--db", dbPath)
	assert.EqualError(t, err, "aborted")
	assert.Contains(t, out, "Continue? [y/N]")

	out, _, err = run(t, testApp(t), "y\n", "store", "migrate", "force", "2", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "version 2 of 2\n")

	out, _, err = run(t, testApp(t), "", "store", "migrate", "force", "--yes", "2", "--db", dbPath)
	require.NoError(t, err)
	assert.Equal(t, "version 2 of 2\n", out)

	// the database is still usable by the other store commands
	path := writeDump(t, surveyBytes)
	out, _, err = run(t, testApp(t), "", "store", "--db", dbPath, path)
	require.NoError(t, err)
	assert.Contains(t, out, "1 surveys")
}

func TestStoreMigrate_UsesConfiguredPath(t *testing.T) {
	a := testApp(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "mnemo.toml")
	dbPath := filepath.Join(dir, "configured.db")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[store]\npath = \""+filepath.ToSlash(dbPath)+"\"\n"), 0o644))

	out, _, err := run(t, a, "", "--config", cfgPath, "store", "migrate", "up")
	require.NoError(t, err)
	assert.Equal(t, "version 2 of 2\n", out)
	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestDecode_HelpListsFormats(t *testing.T) {
	out, _, err := run(t, testApp(t), "", "decode", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "output format: json, yaml, dump")
}

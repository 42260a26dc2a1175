package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digggggmori-pixel/usbsentinel/internal/metrics"
	"github.com/digggggmori-pixel/usbsentinel/internal/output"
	"github.com/digggggmori-pixel/usbsentinel/internal/usagelog"
)

const deviceSnapshot = `root: SYSTEM\CurrentControlSet\Enum\USBSTOR
tree:
  subkeys:
    Disk&Ven_Kingston&Prod_DataTraveler&Rev_PMAP:
      subkeys:
        0019E06B9C85F9A0:
          values:
            FriendlyName: Kingston DataTraveler 3.0 USB Device
            DeviceID: K1
            Manufacturer: Kingston
            FirstInstallDate: "2024-01-15 09:30:00"
`

// isolate keeps user and system config files out of the test
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("AppData", dir)
	return dir
}

func writeSnapshot(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "usbstor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVersion(t *testing.T) {
	isolate(t)
	code, stdout, _ := run("version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "usbsentinel dev\n", stdout)
}

func TestScanSnapshot(t *testing.T) {
	isolate(t)
	snap := writeSnapshot(t, deviceSnapshot)

	code, stdout, stderr := run("scan", "--snapshot", snap, "--alert=false", "--plot=false", "--strategy", "none")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, output.Header)
	assert.Contains(t, stdout, "K1")
	assert.Contains(t, stdout, "Kingston DataTraveler 3.0 USB Device")
}

func TestRootCommandScans(t *testing.T) {
	isolate(t)
	snap := writeSnapshot(t, deviceSnapshot)

	code, stdout, _ := run("--snapshot", snap, "--alert=false", "--plot=false", "--strategy", "none")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "K1")
}

func TestScanJSON(t *testing.T) {
	isolate(t)
	snap := writeSnapshot(t, deviceSnapshot)

	code, stdout, _ := run("scan", "--json", "--snapshot", snap, "--alert=false", "--strategy", "none")
	require.Equal(t, 0, code)

	var result struct {
		Devices []struct {
			DeviceID string `json:"device_id"`
		} `json:"devices"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &result), stdout)
	require.Len(t, result.Devices, 1)
	assert.Equal(t, "K1", result.Devices[0].DeviceID)
}

func TestScanQuiet(t *testing.T) {
	isolate(t)
	snap := writeSnapshot(t, deviceSnapshot)

	code, stdout, _ := run("scan", "-q", "--snapshot", snap, "--alert=false", "--strategy", "none")
	require.Equal(t, 0, code)
	assert.Empty(t, stdout)
}

func TestScanSaveDir(t *testing.T) {
	isolate(t)
	snap := writeSnapshot(t, deviceSnapshot)
	saveDir := t.TempDir()

	code, _, _ := run("scan", "--snapshot", snap, "--alert=false", "--plot=false", "--strategy", "none", "--save-dir", saveDir)
	require.Equal(t, 0, code)

	matches, err := filepath.Glob(filepath.Join(saveDir, "usb_scan_*.json"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestScanMissingRoot(t *testing.T) {
	isolate(t)
	snap := writeSnapshot(t, "root: SYSTEM\\CurrentControlSet\\Enum\\USBSTOR\n")

	for _, args := range [][]string{
		{"scan", "--snapshot", snap, "--alert=false"},
		{"scan", "-v", "--snapshot", snap, "--alert=false"},
	} {
		code, stdout, _ := run(args...)
		assert.Equal(t, 1, code, args)
		assert.Equal(t, output.RegistryNotFound+"\n", stdout, args)
	}
}

func TestScanStrictMissingValueFails(t *testing.T) {
	isolate(t)
	snap := writeSnapshot(t, `root: SYSTEM\CurrentControlSet\Enum\USBSTOR
tree:
  subkeys:
    Disk&Ven_X&Prod_Y:
      subkeys:
        S1:
          values:
            DeviceID: D1
`)

	code, _, stderr := run("scan", "--snapshot", snap, "--alert=false", "--plot=false")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "FriendlyName")
}

func TestInvalidStrategy(t *testing.T) {
	isolate(t)
	code, _, stderr := run("scan", "--strategy", "bogus")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "analysis.strategy")
}

func TestLiveSourcesUnsupportedOffWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("live registry is available")
	}
	isolate(t)

	for _, args := range [][]string{{"scan", "--alert=false"}, {"watch", "--alert=false"}} {
		code, stdout, _ := run(args...)
		assert.Equal(t, 1, code, args)
		assert.Equal(t, output.UnsupportedOS+"\n", stdout, args)
	}
}

func TestConfigInit(t *testing.T) {
	dir := isolate(t)

	code, stdout, stderr := run("config", "init", "--strategy", "isolation-forest")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Configuration written to "+dir)

	path := strings.TrimPrefix(strings.TrimSpace(stdout), "Configuration written to ")
	assert.Equal(t, "usbsentinel.yaml", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "strategy: isolation-forest")
}

type scriptedSource struct {
	ids    []string
	cancel context.CancelFunc
}

func (s *scriptedSource) Next(ctx context.Context) (string, error) {
	if len(s.ids) > 0 {
		id := s.ids[0]
		s.ids = s.ids[1:]
		return id, nil
	}
	s.cancel()
	<-ctx.Done()
	return "", ctx.Err()
}

func (s *scriptedSource) Close() error { return nil }

func TestRunWatchAnalyzesAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetContext(ctx)
	cmd.SetOut(&out)

	src := &scriptedSource{ids: []string{`USB\VID_0781&PID_5581\A1`, `USB\VID_0951&PID_1666\B2`}, cancel: cancel}

	var analyzed int
	err := runWatch(cmd, &options{}, "", src, func(usage *usagelog.Log, _ *output.Handler, _ *metrics.Metrics) error {
		analyzed = usage.Len()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, analyzed)
	assert.Contains(t, out.String(), `USB\VID_0781&PID_5581\A1`)
	assert.Contains(t, out.String(), "2 connections recorded.")
}

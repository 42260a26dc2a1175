package detector

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digggggmori-pixel/usbsentinel/pkg/types"
)

func TestIsSuspiciousPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"payload.exe", true},
		{"run.bat", true},
		{"x.vbs", true},
		{"app.js", true},
		{"setup.msi", true},
		{"go.cmd", true},
		{".exe", true},
		{"payload.EXE", false},
		{"Run.Bat", false},
		{"archive.json", false},
		{"exe", false},
		{"payload.exe.txt", false},
		{"", false},
		{`SYSTEM\CurrentControlSet\Enum\USBSTOR\Disk&Ven_SanDisk&Prod_Cruzer\4C530001`, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSuspiciousPath(tt.path))
		})
	}
}

func TestIsSuspiciousPathMatchesSetMembersOnly(t *testing.T) {
	for _, ext := range SuspiciousExtensions {
		assert.True(t, IsSuspiciousPath("file"+ext), ext)
		assert.False(t, IsSuspiciousPath("file"+strings.ToUpper(ext)), ext)
		assert.False(t, IsSuspiciousPath("file"+ext+"x"), ext)
	}
}

func TestCheck(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	d := &Detector{now: func() time.Time { return fixed }}

	clean := types.DeviceRecord{DeviceID: "A1", KeyPath: `USBSTOR\Disk&Ven_X\A1`}
	assert.Nil(t, d.Check(clean))

	bad := types.DeviceRecord{DeviceID: "B2", FriendlyName: "Stick", KeyPath: `USBSTOR\Disk&Ven_X\autorun.bat`}
	det := d.Check(bad)
	require.NotNil(t, det)
	assert.Equal(t, types.DetectionTypeSuspiciousUSB, det.Type)
	assert.Equal(t, fixed, det.Timestamp)
	assert.Equal(t, true, det.Details["demo"])
	assert.Equal(t, ".bat", det.Details["extension"])
	require.NotNil(t, det.Device)
	assert.Equal(t, "B2", det.Device.DeviceID)
	assert.Contains(t, GenerateUserDescription(det), "'Stick'")
	msg := AlertMessage(det)
	assert.True(t, strings.HasPrefix(msg, "Suspicious files detected.\n\n"+GenerateUserDescription(det)))
	assert.True(t, strings.HasSuffix(msg, "\n\n"+GenerateRecommendation(det)))
}

func TestCheckFallsBackToDeviceID(t *testing.T) {
	d := New()
	det := d.Check(types.DeviceRecord{DeviceID: "evil.exe"})
	require.NotNil(t, det)
	assert.Equal(t, "evil.exe", det.Details["checked_path"])
}

func TestCheckSkipsApprovedDevices(t *testing.T) {
	d := New("1234567890", `usbstor\disk\B2`)

	assert.Nil(t, d.Check(types.DeviceRecord{DeviceID: "X", SerialNumber: "1234567890", KeyPath: "a.exe"}))
	assert.Nil(t, d.Check(types.DeviceRecord{DeviceID: `USBSTOR\Disk\B2`, KeyPath: "a.exe"}))
	assert.NotNil(t, d.Check(types.DeviceRecord{DeviceID: "Y", SerialNumber: "0987654321", KeyPath: "a.exe"}))
}


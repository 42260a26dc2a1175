package detector

import (
	"fmt"
	"strings"
	"time"

	"github.com/digggggmori-pixel/usbsentinel/internal/logger"
	"github.com/digggggmori-pixel/usbsentinel/pkg/types"
)

// SuspiciousExtensions are the suffixes that mark a path as suspicious.
// Matching is case-sensitive.
var SuspiciousExtensions = []string{".exe", ".bat", ".vbs", ".js", ".msi", ".cmd"}

// IsSuspiciousPath reports whether path ends with one of SuspiciousExtensions
func IsSuspiciousPath(path string) bool {
	for _, ext := range SuspiciousExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// Detector runs the suspicious-extension heuristic over device records.
//
// The heuristic is applied to the registry key path of the device, not to
// any file on the device, so it is demo logic: a USBSTOR key path never ends
// in an executable extension in practice. Every detection carries demo=true.
type Detector struct {
	approved map[string]bool
	now      func() time.Time
}

// New creates a new Detector instance. Devices whose serial number or device
// ID is listed in approved are never flagged.
func New(approved ...string) *Detector {
	d := &Detector{
		approved: make(map[string]bool, len(approved)),
		now:      time.Now,
	}
	for _, id := range approved {
		d.approved[strings.ToUpper(id)] = true
	}
	return d
}

// IsApproved reports whether the record is on the approved list
func (d *Detector) IsApproved(record types.DeviceRecord) bool {
	return d.approved[strings.ToUpper(record.DeviceID)] ||
		(record.SerialNumber != "" && d.approved[strings.ToUpper(record.SerialNumber)])
}

// Check returns a detection when the record's key path looks suspicious, nil otherwise
func (d *Detector) Check(record types.DeviceRecord) *types.Detection {
	path := record.KeyPath
	if path == "" {
		path = record.DeviceID
	}
	if !IsSuspiciousPath(path) {
		return nil
	}
	if d.IsApproved(record) {
		logger.Debug("Suspicious path on approved device %s ignored", record.DeviceID)
		return nil
	}

	rec := record
	detection := &types.Detection{
		ID:          fmt.Sprintf("usb-%s-%d", record.DeviceID, d.now().UnixNano()),
		Type:        types.DetectionTypeSuspiciousUSB,
		Severity:    types.SeverityMedium,
		Timestamp:   d.now(),
		Description: fmt.Sprintf("Registry path %s ends with a suspicious extension", path),
		Device:      &rec,
		Details: map[string]interface{}{
			"checked_path": path,
			"extension":    matchedExtension(path),
			"demo":         true,
		},
	}
	logger.DetectionInfo(detection.Type, detection.Severity, detection.Description)
	return detection
}

func matchedExtension(path string) string {
	for _, ext := range SuspiciousExtensions {
		if strings.HasSuffix(path, ext) {
			return ext
		}
	}
	return ""
}

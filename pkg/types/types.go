// Package types defines the core data structures for usbsentinel
package types

import (
	"time"
)

// Registry value names read from every USBSTOR device key
const (
	ValueFriendlyName     = "FriendlyName"
	ValueDeviceID         = "DeviceID"
	ValueManufacturer     = "Manufacturer"
	ValueFirstInstallDate = "FirstInstallDate"
)

// FirstInstallLayout is the registry format of FirstInstallDate
const FirstInstallLayout = "2006-01-02 15:04:05"

// DisplayLayout is how install dates are printed in the device report
const DisplayLayout = "02-Jan-2006 15:04:05"

// ActionConnected is the only action recorded in the usage log
const ActionConnected = "Connected"

// DeviceRecord represents one USB mass-storage device read from USBSTOR
type DeviceRecord struct {
	FriendlyName string    `json:"friendly_name"`
	DeviceID     string    `json:"device_id"`
	Manufacturer string    `json:"manufacturer"`
	FirstInstall time.Time `json:"first_install"`
	KeyPath      string    `json:"key_path"`
	SerialNumber string    `json:"serial_number,omitempty"`
	VendorID     string    `json:"vendor_id,omitempty"`
	ProductID    string    `json:"product_id,omitempty"`
}

// UsageEntry is a single observed device connection
type UsageEntry struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
}

// Anomaly is a usage entry flagged by the activity analyzer
type Anomaly struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
	Score     float64   `json:"score"`
}

// AnalysisReport is the outcome of one analyzer pass
type AnalysisReport struct {
	Strategy  string    `json:"strategy"`
	Anomalies []Anomaly `json:"anomalies"`
	Message   string    `json:"message,omitempty"`
	Threshold float64   `json:"threshold,omitempty"`
	Demo      bool      `json:"demo"`
}

// Detection represents a heuristic hit on a device
type Detection struct {
	ID          string                 `json:"id"`
	Type        string                 `json:"type"`
	Severity    string                 `json:"severity"`
	Timestamp   time.Time              `json:"timestamp"`
	Description string                 `json:"description"`
	Device      *DeviceRecord          `json:"device,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// AlertOutcome records what happened to an alert for a detection
type AlertOutcome struct {
	DeviceID string `json:"device_id"`
	Sent     bool   `json:"sent"`
	Error    string `json:"error,omitempty"`
}

// HostInfo represents the host system information
type HostInfo struct {
	Hostname  string `json:"hostname"`
	OSVersion string `json:"os_version"`
	Arch      string `json:"arch"`
}

// ScanResult represents the complete result of a scan run
type ScanResult struct {
	RunID          string          `json:"run_id"`
	ScanTime       time.Time       `json:"scan_time"`
	ScanDurationMs int64           `json:"scan_duration_ms"`
	Host           HostInfo        `json:"host"`
	Devices        []DeviceRecord  `json:"devices"`
	Detections     []Detection     `json:"detections"`
	Alerts         []AlertOutcome  `json:"alerts"`
	Report         *AnalysisReport `json:"report,omitempty"`
}

// Severity constants
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// Detection type constants
const (
	DetectionTypeSuspiciousUSB = "suspicious_usb"
)

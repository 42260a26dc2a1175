//go:build windows

package collector

import (
	"github.com/digggggmori-pixel/usbsentinel/internal/logger"
)

func osVersion() string {
	rows, err := WMIQueryFields(`root\cimv2`,
		"SELECT Caption, Version FROM Win32_OperatingSystem",
		[]string{"Caption", "Version"})
	if err != nil || len(rows) == 0 {
		logger.Debug("Win32_OperatingSystem query failed: %v", err)
		return "windows"
	}
	return rows[0]["Caption"] + " " + rows[0]["Version"]
}

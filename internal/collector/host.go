package collector

import (
	"os"
	"runtime"

	"github.com/digggggmori-pixel/usbsentinel/pkg/types"
)

// GetHostInfo returns host system information
func GetHostInfo() types.HostInfo {
	hostname, _ := os.Hostname()
	return types.HostInfo{
		Hostname:  hostname,
		OSVersion: osVersion(),
		Arch:      runtime.GOARCH,
	}
}

// IsSupportedOS reports whether the live registry and WMI sources work here
func IsSupportedOS() bool {
	return runtime.GOOS == "windows"
}

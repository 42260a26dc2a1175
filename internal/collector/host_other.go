//go:build !windows

package collector

import "runtime"

func osVersion() string {
	return runtime.GOOS
}

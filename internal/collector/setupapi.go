package collector

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var (
	deviceInstallRe = regexp.MustCompile(`Device Install.*USBSTOR\\([^\]]+)`)
	sectionStartRe  = regexp.MustCompile(`Section start (\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2})`)
)

func defaultSetupAPILog() string {
	winDir := os.Getenv("WINDIR")
	if winDir == "" {
		winDir = `C:\Windows`
	}
	return filepath.Join(winDir, "INF", "setupapi.dev.log")
}

// ParseSetupAPILog returns the earliest install time per device serial.
//
//	>>>  [Device Install (Hardware initiated) - USBSTOR\Disk&Ven_X&Prod_Y\SERIAL]
//	>>>  Section start 2024/01/15 14:30:22.123
func ParseSetupAPILog(r io.Reader) map[string]time.Time {
	installs := make(map[string]time.Time)

	scanner := bufio.NewScanner(r)
	var currentSerial string
	for scanner.Scan() {
		line := scanner.Text()

		if match := deviceInstallRe.FindStringSubmatch(line); match != nil {
			parts := strings.Split(match[1], `\`)
			if len(parts) >= 2 {
				currentSerial = parts[len(parts)-1]
			}
			continue
		}

		if currentSerial == "" {
			continue
		}
		if match := sectionStartRe.FindStringSubmatch(line); match != nil {
			if t, err := time.Parse("2006/01/02 15:04:05", match[1]); err == nil {
				if prev, ok := installs[currentSerial]; !ok || t.Before(prev) {
					installs[currentSerial] = t
				}
			}
			currentSerial = ""
		}
	}

	return installs
}

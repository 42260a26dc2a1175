package detector

import (
	"fmt"

	"github.com/digggggmori-pixel/usbsentinel/pkg/types"
)

// AlertMessage is the free-text message mailed for a detection
func AlertMessage(d *types.Detection) string {
	return "Suspicious files detected.\n\n" + GenerateUserDescription(d) + "\n\n" + GenerateRecommendation(d)
}

// GenerateUserDescription creates a plain English explanation of the detection
func GenerateUserDescription(d *types.Detection) string {
	switch d.Type {
	case types.DetectionTypeSuspiciousUSB:
		name := "A USB device"
		if d.Device != nil && d.Device.FriendlyName != "" {
			name = fmt.Sprintf("'%s'", d.Device.FriendlyName)
		}
		ext, _ := d.Details["extension"].(string)
		return fmt.Sprintf("%s has a registry path ending in '%s'. This check looks at the registry key path only, not files on the device, so treat it as a demonstration signal rather than evidence.", name, ext)

	default:
		return d.Description
	}
}

// GenerateRecommendation suggests a follow-up for the detection
func GenerateRecommendation(d *types.Detection) string {
	switch d.Type {
	case types.DetectionTypeSuspiciousUSB:
		return "Inspect the device contents with an up-to-date antivirus scanner before opening any files."
	default:
		return "Review this finding manually."
	}
}

//go:build !windows

package collector

import "context"

// USBEventSource is only available on Windows
type USBEventSource struct{}

// NewUSBEventSource fails outside Windows
func NewUSBEventSource() (*USBEventSource, error) {
	return nil, ErrUnsupportedOS
}

// Next never yields outside Windows
func (s *USBEventSource) Next(ctx context.Context) (string, error) {
	return "", ErrUnsupportedOS
}

// Close is a no-op outside Windows
func (s *USBEventSource) Close() error {
	return nil
}

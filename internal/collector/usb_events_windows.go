//go:build windows

package collector

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	ole "github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"

	"github.com/digggggmori-pixel/usbsentinel/internal/logger"
)

const (
	usbCreationQuery = "SELECT * FROM __InstanceCreationEvent WITHIN 2 WHERE TargetInstance ISA 'Win32_USBHub'"
	// NextEvent wait per call, so Close is noticed promptly
	nextEventTimeoutMs = 500
)

// USBEventSource delivers the DeviceID of every newly created Win32_USBHub.
// All COM calls happen on one locked OS thread owned by the source.
type USBEventSource struct {
	events chan string
	errs   chan error
	stop   chan struct{}
	done   chan struct{}
}

// NewUSBEventSource subscribes to USB device creation events via WMI
func NewUSBEventSource() (*USBEventSource, error) {
	s := &USBEventSource{
		events: make(chan string),
		errs:   make(chan error, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	ready := make(chan error, 1)
	go s.run(ready)
	if err := <-ready; err != nil {
		<-s.done
		return nil, err
	}
	return s, nil
}

// Next blocks until a device is created, the source fails or ctx ends
func (s *USBEventSource) Next(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case id := <-s.events:
		return id, nil
	case err := <-s.errs:
		return "", err
	}
}

// Close stops the subscription and waits for the COM thread to exit
func (s *USBEventSource) Close() error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
	return nil
}

func (s *USBEventSource) run(ready chan<- error) {
	defer close(s.done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	uninit, err := comInit()
	if err != nil {
		ready <- err
		return
	}
	defer uninit()

	service, err := connectWMI(`root\cimv2`)
	if err != nil {
		ready <- err
		return
	}
	defer service.Release()

	logger.APICall("ExecNotificationQuery", usbCreationQuery)
	sourceRaw, err := oleutil.CallMethod(service, "ExecNotificationQuery", usbCreationQuery)
	if err != nil {
		ready <- fmt.Errorf("ExecNotificationQuery: %w", err)
		return
	}
	eventSource := sourceRaw.ToIDispatch()
	defer eventSource.Release()
	ready <- nil

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		eventRaw, err := oleutil.CallMethod(eventSource, "NextEvent", nextEventTimeoutMs)
		if err != nil {
			if isWMITimeout(err) {
				continue
			}
			s.errs <- fmt.Errorf("NextEvent: %w", err)
			return
		}

		deviceID, err := targetDeviceID(eventRaw.ToIDispatch())
		if err != nil {
			logger.Warn("Unreadable USB creation event: %v", err)
			continue
		}

		select {
		case s.events <- deviceID:
		case <-s.stop:
			return
		}
	}
}

func targetDeviceID(event *ole.IDispatch) (string, error) {
	defer event.Release()

	targetRaw, err := oleutil.GetProperty(event, "TargetInstance")
	if err != nil {
		return "", fmt.Errorf("get TargetInstance: %w", err)
	}
	target := targetRaw.ToIDispatch()
	defer target.Release()

	idRaw, err := oleutil.GetProperty(target, "DeviceID")
	if err != nil {
		return "", fmt.Errorf("get DeviceID: %w", err)
	}
	id := idRaw.ToString()
	if id == "" {
		return "", errors.New("empty DeviceID")
	}
	return id, nil
}

// NextEvent raises wbemErrTimedOut (0x80043001) through DISP_E_EXCEPTION
func isWMITimeout(err error) bool {
	var oleErr *ole.OleError
	if !errors.As(err, &oleErr) {
		return false
	}
	msg := strings.ToLower(oleErr.Error())
	return strings.Contains(msg, "timed out") || strings.Contains(msg, "80043001")
}

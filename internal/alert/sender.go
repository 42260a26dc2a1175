package alert

import (
	"context"
	"fmt"

	"github.com/digggggmori-pixel/usbsentinel/internal/config"
	"github.com/digggggmori-pixel/usbsentinel/internal/logger"
	"github.com/digggggmori-pixel/usbsentinel/internal/metrics"
	"github.com/digggggmori-pixel/usbsentinel/pkg/types"
)

// Sender applies the enabled flag and the failure policy around a Mailer
type Sender struct {
	mailer  Mailer
	enabled bool
	policy  config.AlertFailurePolicy
	metrics *metrics.Metrics
}

// NewSender wraps mailer with the configured alert behaviour. m may be nil.
func NewSender(cfg config.AlertConfig, mailer Mailer, m *metrics.Metrics) *Sender {
	policy := cfg.FailurePolicy
	if policy == "" {
		policy = config.AlertFailureLog
	}
	return &Sender{
		mailer:  mailer,
		enabled: cfg.Enabled,
		policy:  policy,
		metrics: m,
	}
}

// Send mails one alert. With the log policy a delivery failure is recorded in
// the outcome and swallowed; with the propagate policy it is returned.
func (s *Sender) Send(ctx context.Context, deviceID, message string) (types.AlertOutcome, error) {
	outcome := types.AlertOutcome{DeviceID: deviceID}

	if !s.enabled {
		logger.Info("Alerting disabled, not mailing alert for %s", deviceID)
		return outcome, nil
	}

	if err := s.mailer.Send(ctx, deviceID, message); err != nil {
		s.metrics.IncrementAlertsFailed()
		outcome.Error = err.Error()
		if s.policy == config.AlertFailurePropagate {
			return outcome, fmt.Errorf("alert for %s: %w", deviceID, err)
		}
		logger.Error("Failed to send alert for %s: %v", deviceID, err)
		return outcome, nil
	}

	s.metrics.IncrementAlertsSent()
	outcome.Sent = true
	logger.Info("Alert sent for %s", deviceID)
	return outcome, nil
}

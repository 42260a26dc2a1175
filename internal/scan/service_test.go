package scan

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"github.com/digggggmori-pixel/usbsentinel/internal/alert"
	"github.com/digggggmori-pixel/usbsentinel/internal/analyzer"
	"github.com/digggggmori-pixel/usbsentinel/internal/collector"
	"github.com/digggggmori-pixel/usbsentinel/internal/config"
	"github.com/digggggmori-pixel/usbsentinel/internal/detector"
	"github.com/digggggmori-pixel/usbsentinel/internal/metrics"
	"github.com/digggggmori-pixel/usbsentinel/internal/output"
	"github.com/digggggmori-pixel/usbsentinel/internal/usagelog"
	"github.com/digggggmori-pixel/usbsentinel/internal/visualize"
	"github.com/digggggmori-pixel/usbsentinel/pkg/types"
)

type fakeMailer struct {
	err  error
	sent []string
}

func (f *fakeMailer) Send(_ context.Context, deviceID, message string) error {
	f.sent = append(f.sent, alert.ComposeBody(deviceID, message))
	return f.err
}

type fakeRenderer struct {
	calls int
}

func (f *fakeRenderer) Render(visualize.Histogram) error {
	f.calls++
	return nil
}

type ServiceSuite struct {
	suite.Suite
	cfg      config.Config
	hive     *collector.MemoryHive
	mailer   *fakeMailer
	renderer *fakeRenderer
	out      *bytes.Buffer
	metrics  *metrics.Metrics
	clock    time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.cfg = config.Config{
		Registry: config.RegistryConfig{Path: config.USBSTORPath, Strict: true},
		Alert: config.AlertConfig{
			Enabled:       true,
			FailurePolicy: config.AlertFailureLog,
			Recipient:     "admin@example.com",
		},
		Analysis: config.AnalysisConfig{
			Strategy:   config.StrategyClustering,
			Clusters:   3,
			Percentile: 95,
			Features:   config.FeaturesTemporal,
		},
		Visualize: config.VisualizeConfig{Enabled: true, Output: "terminal"},
	}
	s.hive = collector.NewMemoryHive()
	s.mailer = &fakeMailer{}
	s.renderer = &fakeRenderer{}
	s.out = &bytes.Buffer{}
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.clock = time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC)
}

func (s *ServiceSuite) addDevice(class, serial, id string) {
	s.hive.Put(config.USBSTORPath+`\`+class+`\`+serial, map[string]string{
		types.ValueFriendlyName:     id + " USB Device",
		types.ValueDeviceID:         id,
		types.ValueManufacturer:     "Acme",
		types.ValueFirstInstallDate: "2023-04-05 06:07:08",
	})
}

func (s *ServiceSuite) service(usage *usagelog.Log) *Service {
	return NewService(context.Background(), s.cfg, Deps{
		Hive:     s.hive,
		Mailer:   s.mailer,
		Renderer: s.renderer,
		Output:   output.New(output.Options{Out: s.out}),
		Usage:    usage,
		Metrics:  s.metrics,
	})
}

func (s *ServiceSuite) fixedUsage() *usagelog.Log {
	return usagelog.NewWithClock(func() time.Time { return s.clock })
}

func (s *ServiceSuite) TestMissingRootFailsWithoutOutput() {
	result, err := s.service(nil).Execute()

	s.Require().ErrorIs(err, collector.ErrRootNotFound)
	s.Nil(result)
	s.Empty(s.out.String())
	s.Empty(s.mailer.sent)
}

func (s *ServiceSuite) TestMissingRootVerbosePrintsNoStep() {
	svc := NewService(context.Background(), s.cfg, Deps{
		Hive:     s.hive,
		Mailer:   s.mailer,
		Renderer: s.renderer,
		Output:   output.New(output.Options{Out: s.out, Verbose: true}),
	})

	_, err := svc.Execute()
	s.Require().ErrorIs(err, collector.ErrRootNotFound)
	s.Empty(s.out.String())
}

func (s *ServiceSuite) TestZeroDevicesSendsNoAlert() {
	s.hive.Put(config.USBSTORPath, nil)

	result, err := s.service(nil).Execute()
	s.Require().NoError(err)
	s.Empty(result.Devices)
	s.Empty(s.mailer.sent)
	s.Equal(analyzer.MsgNotEnoughData, result.Report.Message)
	s.Contains(s.out.String(), output.Header)
	s.Contains(s.out.String(), visualize.EmptyMessage)
	s.Equal(0, s.renderer.calls)
}

func (s *ServiceSuite) TestSuspiciousPathAlerts() {
	s.addDevice("Disk&Ven_Acme&Prod_Stick", "A1", "A1")
	s.addDevice("Disk&Ven_Acme&Prod_Stick", "autorun.bat", "B2")

	result, err := s.service(s.fixedUsage()).Execute()
	s.Require().NoError(err)

	s.Len(result.Devices, 2)
	s.Require().Len(result.Detections, 1)
	s.Equal("B2", result.Detections[0].Device.DeviceID)
	s.Require().Len(s.mailer.sent, 1)
	s.True(strings.HasPrefix(s.mailer.sent[0], "Alert for USB Device ID: B2\n\nSuspicious files detected."))
	s.True(strings.HasSuffix(s.mailer.sent[0], detector.GenerateRecommendation(&result.Detections[0])))
	s.Require().Len(result.Alerts, 1)
	s.True(result.Alerts[0].Sent)
	s.NotEmpty(result.RunID)

	text := s.out.String()
	s.Equal(1, strings.Count(text, "** ALERT: Potentially Malicious Files Found **"))
	s.Equal(2, strings.Count(text, strings.Repeat("-", 40)))
	s.Equal(2.0, testutil.ToFloat64(s.metrics.DevicesRead))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Detections))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.AlertsSent))
}

func (s *ServiceSuite) TestAlertFailureLogPolicyContinues() {
	s.mailer.err = errors.New("connection refused")
	s.addDevice("Disk&Ven_Acme&Prod_Stick", "a.exe", "A1")
	s.addDevice("Disk&Ven_Acme&Prod_Stick", "b.exe", "B2")

	result, err := s.service(nil).Execute()
	s.Require().NoError(err)
	s.Len(result.Devices, 2)
	s.Len(s.mailer.sent, 2)
	s.Equal("connection refused", result.Alerts[0].Error)
	s.Equal(2.0, testutil.ToFloat64(s.metrics.AlertsFailed))
	s.Contains(s.out.String(), "ERROR: alert for A1 not sent: connection refused")
}

func (s *ServiceSuite) TestAlertFailurePropagatePolicyStops() {
	s.cfg.Alert.FailurePolicy = config.AlertFailurePropagate
	s.mailer.err = errors.New("535 auth failed")
	s.addDevice("Disk&Ven_Acme&Prod_Stick", "a.exe", "A1")
	s.addDevice("Disk&Ven_Acme&Prod_Stick", "b.exe", "B2")

	result, err := s.service(nil).Execute()
	s.Require().ErrorIs(err, s.mailer.err)
	s.Require().NotNil(result)
	s.Len(result.Devices, 1)
	s.Len(s.mailer.sent, 1)
	s.Nil(result.Report)
}

func (s *ServiceSuite) TestStrictFieldErrorIsFatal() {
	s.addDevice("Disk&Ven_Acme&Prod_Stick", "A1", "A1")
	s.hive.Put(config.USBSTORPath+`\Disk&Ven_Zeta&Prod_Z\S1`, map[string]string{types.ValueDeviceID: "Z1"})

	result, err := s.service(nil).Execute()
	var fieldErr *collector.FieldError
	s.Require().ErrorAs(err, &fieldErr)
	s.Len(result.Devices, 1)
}

func (s *ServiceSuite) TestAnalysisFlagsOutlierAndRenders() {
	usage := s.fixedUsage()
	for i := 0; i < 8; i++ {
		usage.Append(types.UsageEntry{DeviceID: "X", Timestamp: s.clock, Action: types.ActionConnected})
	}
	usage.Append(types.UsageEntry{DeviceID: "B2", Timestamp: s.clock.Add(12 * time.Hour), Action: types.ActionConnected})
	s.addDevice("Disk&Ven_Acme&Prod_Stick", "A1", "A1")

	result, err := s.service(usage).Execute()
	s.Require().NoError(err)
	s.Require().Len(result.Report.Anomalies, 1)
	s.Equal("B2", result.Report.Anomalies[0].DeviceID)
	s.Contains(s.out.String(), "Anomaly detected: B2")
	s.Equal(1, s.renderer.calls)
}

func (s *ServiceSuite) TestVisualizationDisabled() {
	s.cfg.Visualize.Enabled = false
	s.addDevice("Disk&Ven_Acme&Prod_Stick", "A1", "A1")

	_, err := s.service(nil).Execute()
	s.Require().NoError(err)
	s.Equal(0, s.renderer.calls)
}

func (s *ServiceSuite) TestAlertsDisabled() {
	s.cfg.Alert.Enabled = false
	s.addDevice("Disk&Ven_Acme&Prod_Stick", "a.exe", "A1")

	result, err := s.service(nil).Execute()
	s.Require().NoError(err)
	s.Len(result.Detections, 1)
	s.Empty(s.mailer.sent)
	s.False(result.Alerts[0].Sent)
}

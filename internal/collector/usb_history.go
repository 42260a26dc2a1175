package collector

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/digggggmori-pixel/usbsentinel/internal/logger"
	"github.com/digggggmori-pixel/usbsentinel/internal/usagelog"
	"github.com/digggggmori-pixel/usbsentinel/pkg/types"
)

// ErrRootNotFound is returned when the USBSTOR root key does not exist
var ErrRootNotFound = errors.New("registry path not found")

// FieldError reports a missing or malformed value on a device key. It
// terminates enumeration.
type FieldError struct {
	KeyPath string
	Value   string
	Err     error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: value %s: %v", e.KeyPath, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// USBHistoryCollector collects USB device connection history
type USBHistoryCollector struct {
	hive        Hive
	root        string
	strict      bool
	setupAPILog string
	usage       *usagelog.Log
	onRecord    func(types.DeviceRecord) error
}

// Option configures a USBHistoryCollector
type Option func(*USBHistoryCollector)

// WithRoot overrides the USBSTOR path
func WithRoot(path string) Option {
	return func(c *USBHistoryCollector) { c.root = path }
}

// WithStrict controls whether missing or malformed values are fatal
func WithStrict(strict bool) Option {
	return func(c *USBHistoryCollector) { c.strict = strict }
}

// WithSetupAPILog sets the setupapi.dev.log used for lenient install dates
func WithSetupAPILog(path string) Option {
	return func(c *USBHistoryCollector) { c.setupAPILog = path }
}

// WithUsageLog records a Connected entry for each device read
func WithUsageLog(l *usagelog.Log) Option {
	return func(c *USBHistoryCollector) { c.usage = l }
}

// WithRecordHandler is called for every record as soon as it is read. A
// handler error stops enumeration and is returned by Collect.
func WithRecordHandler(fn func(types.DeviceRecord) error) Option {
	return func(c *USBHistoryCollector) { c.onRecord = fn }
}

// NewUSBHistoryCollector creates a new USB history collector
func NewUSBHistoryCollector(hive Hive, opts ...Option) *USBHistoryCollector {
	c := &USBHistoryCollector{
		hive:   hive,
		root:   `SYSTEM\CurrentControlSet\Enum\USBSTOR`,
		strict: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect enumerates USBSTOR. Records read before a FieldError or handler
// error are returned alongside it.
func (c *USBHistoryCollector) Collect() ([]types.DeviceRecord, error) {
	logger.Section("USB History Collection")
	startTime := time.Now()

	key, err := c.openRoot()
	if err != nil {
		return nil, err
	}
	defer key.Close()

	var installs map[string]time.Time
	if !c.strict {
		installs = c.loadInstallTimes()
	}

	// Enumerate device class subkeys (e.g., Disk&Ven_SanDisk&Prod_Ultra&Rev_1.00)
	classNames, err := key.ReadSubKeyNames()
	if err != nil {
		return nil, fmt.Errorf("enumerate %s: %w", c.root, err)
	}

	var devices []types.DeviceRecord
	for _, className := range classNames {
		found, err := c.readClass(key, className, installs)
		devices = append(devices, found...)
		if err != nil {
			logger.Error("USBSTOR enumeration stopped: %v", err)
			return devices, err
		}
	}

	logger.Timing("USBHistoryCollector.Collect", startTime)
	logger.Info("USB history: %d devices found", len(devices))

	return devices, nil
}

// CheckRoot returns ErrRootNotFound (wrapped) when the root key is absent
func (c *USBHistoryCollector) CheckRoot() error {
	key, err := c.openRoot()
	if err != nil {
		return err
	}
	return key.Close()
}

func (c *USBHistoryCollector) openRoot() (Key, error) {
	key, err := c.hive.OpenKey(c.root)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, fmt.Errorf("%s: %w", c.root, ErrRootNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", c.root, err)
	}
	return key, nil
}

func (c *USBHistoryCollector) emit(d types.DeviceRecord) error {
	logger.DeviceInfo(d.DeviceID, d.FriendlyName, d.Manufacturer, d.FirstInstall)
	if c.usage != nil {
		c.usage.RecordConnection(d.DeviceID)
	}
	if c.onRecord != nil {
		return c.onRecord(d)
	}
	return nil
}

// readClass reads every serial-number subkey of one class key. A class key
// without subkeys is itself treated as the device key.
func (c *USBHistoryCollector) readClass(root Key, className string, installs map[string]time.Time) ([]types.DeviceRecord, error) {
	classPath := c.root + `\` + className

	classKey, err := root.OpenSubKey(className)
	if err != nil {
		return nil, c.openFailed(classPath, err)
	}
	defer classKey.Close()

	serialNames, err := classKey.ReadSubKeyNames()
	if err != nil {
		return nil, fmt.Errorf("enumerate %s: %w", classPath, err)
	}

	if len(serialNames) == 0 {
		d, err := c.readDevice(classKey, classPath, className, "", installs)
		if err != nil {
			return nil, err
		}
		return []types.DeviceRecord{d}, c.emit(d)
	}

	var devices []types.DeviceRecord
	for _, serialName := range serialNames {
		d, ok, err := c.readSerial(classKey, classPath, className, serialName, installs)
		if err != nil {
			return devices, err
		}
		if !ok {
			continue
		}
		devices = append(devices, d)
		if err := c.emit(d); err != nil {
			return devices, err
		}
	}
	return devices, nil
}

func (c *USBHistoryCollector) readSerial(classKey Key, classPath, className, serialName string, installs map[string]time.Time) (types.DeviceRecord, bool, error) {
	keyPath := classPath + `\` + serialName
	serialKey, err := classKey.OpenSubKey(serialName)
	if err != nil {
		return types.DeviceRecord{}, false, c.openFailed(keyPath, err)
	}
	defer serialKey.Close()

	d, err := c.readDevice(serialKey, keyPath, className, serialName, installs)
	return d, err == nil, err
}

// openFailed ends enumeration in strict mode; lenient mode skips the key
func (c *USBHistoryCollector) openFailed(keyPath string, err error) error {
	if c.strict {
		return fmt.Errorf("open %s: %w", keyPath, err)
	}
	logger.Warn("Skipping %s: %v", keyPath, err)
	return nil
}

func (c *USBHistoryCollector) readDevice(k Key, keyPath, className, serialName string, installs map[string]time.Time) (types.DeviceRecord, error) {
	vendorID, productID := parseUSBSTORClass(className)
	device := types.DeviceRecord{
		KeyPath:      keyPath,
		SerialNumber: serialName,
		VendorID:     vendorID,
		ProductID:    productID,
	}

	var err error
	if device.FriendlyName, err = c.value(k, keyPath, types.ValueFriendlyName); err != nil {
		return device, err
	}
	if device.DeviceID, err = c.value(k, keyPath, types.ValueDeviceID); err != nil {
		return device, err
	}
	if device.Manufacturer, err = c.value(k, keyPath, types.ValueManufacturer); err != nil {
		return device, err
	}
	rawDate, err := c.value(k, keyPath, types.ValueFirstInstallDate)
	if err != nil {
		return device, err
	}

	if rawDate != "" {
		t, perr := time.Parse(types.FirstInstallLayout, rawDate)
		if perr != nil {
			if c.strict {
				return device, &FieldError{KeyPath: keyPath, Value: types.ValueFirstInstallDate, Err: perr}
			}
			logger.Warn("Malformed FirstInstallDate %q on %s", rawDate, keyPath)
		} else {
			device.FirstInstall = t
		}
	}

	if !c.strict {
		c.fillDerived(k, &device, className, serialName, installs)
	}

	if device.DeviceID == "" {
		return device, &FieldError{KeyPath: keyPath, Value: types.ValueDeviceID, Err: errors.New("empty device id")}
	}
	return device, nil
}

// value reads a string value; absence is a FieldError only in strict mode
func (c *USBHistoryCollector) value(k Key, keyPath, name string) (string, error) {
	val, err := k.GetStringValue(name)
	if err == nil {
		return val, nil
	}
	if c.strict {
		return "", &FieldError{KeyPath: keyPath, Value: name, Err: err}
	}
	return "", nil
}

// fillDerived completes a record from the key layout the way Windows
// actually populates USBSTOR
func (c *USBHistoryCollector) fillDerived(k Key, d *types.DeviceRecord, className, serialName string, installs map[string]time.Time) {
	if d.DeviceID == "" {
		d.DeviceID = className
		if serialName != "" {
			d.DeviceID += `\` + serialName
		}
	}
	if d.FriendlyName == "" {
		d.FriendlyName = buildFriendlyName(className)
	}
	if d.Manufacturer == "" {
		if mfg, err := k.GetStringValue("Mfg"); err == nil && mfg != "" {
			d.Manufacturer = cleanIndirectString(mfg)
		} else {
			d.Manufacturer = d.VendorID
		}
	}
	if d.FirstInstall.IsZero() && serialName != "" {
		if t, ok := installs[serialName]; ok {
			d.FirstInstall = t
		}
	}
}

func (c *USBHistoryCollector) loadInstallTimes() map[string]time.Time {
	path := c.setupAPILog
	if path == "" {
		path = defaultSetupAPILog()
	}

	f, err := os.Open(path)
	if err != nil {
		logger.Debug("Cannot open setupapi.dev.log: %v", err)
		return nil
	}
	defer f.Close()

	installs := ParseSetupAPILog(f)
	logger.Debug("setupapi.dev.log: %d device install times", len(installs))
	return installs
}

// parseUSBSTORClass extracts vendor and product from USBSTOR class name
// Format: Disk&Ven_VENDOR&Prod_PRODUCT&Rev_REV
func parseUSBSTORClass(className string) (vendor, product string) {
	parts := strings.Split(className, "&")
	for _, part := range parts {
		if strings.HasPrefix(part, "Ven_") {
			vendor = strings.TrimPrefix(part, "Ven_")
		}
		if strings.HasPrefix(part, "Prod_") {
			product = strings.TrimPrefix(part, "Prod_")
		}
	}
	return
}

// buildFriendlyName constructs a name from the class name
func buildFriendlyName(className string) string {
	vendor, product := parseUSBSTORClass(className)
	if vendor != "" && product != "" {
		return strings.ReplaceAll(vendor+" "+product, "_", " ")
	}
	return className
}

// cleanIndirectString strips the "@disk.inf,%genmanufacturer%;" prefix of
// indirect registry strings
func cleanIndirectString(s string) string {
	if i := strings.LastIndex(s, ";"); strings.HasPrefix(s, "@") && i >= 0 {
		return s[i+1:]
	}
	return s
}

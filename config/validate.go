package config

import (
	"fmt"
	"strings"

	"github.com/user/gatts-table/logger"
	"github.com/user/gatts-table/wire/advertising"
	"github.com/user/gatts-table/wire/att"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg and returns a *ValidationError listing every problem.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateDevice(cfg, ve)
	validateGATT(cfg, ve)
	validateAdvertising(cfg, ve)
	validateConnection(cfg, ve)
	validateNotifier(cfg, ve)
	validateRuntime(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateDevice(cfg *Config, ve *ValidationError) {
	if cfg.Device.Name == "" {
		ve.Add("device.name must not be empty")
	}
	if len(cfg.Device.Name) > 248 {
		ve.Add("device.name is %d bytes, limit 248", len(cfg.Device.Name))
	}
	if cfg.Device.ID == "" || strings.ContainsAny(cfg.Device.ID, `/\`) {
		ve.Add("device.id %q must be a non-empty name without path separators", cfg.Device.ID)
	}
	if cfg.Device.LocalMTU < att.DefaultMTU || cfg.Device.LocalMTU > att.MaxMTU {
		ve.Add("device.local_mtu %d outside %d..%d", cfg.Device.LocalMTU, att.DefaultMTU, att.MaxMTU)
	}
}

func validateGATT(cfg *Config, ve *ValidationError) {
	if cfg.GATT.CharValueMaxLen <= 0 || cfg.GATT.CharValueMaxLen > 512 {
		ve.Add("gatt.char_value_max_len %d outside 1..512", cfg.GATT.CharValueMaxLen)
	}
	if cfg.GATT.PrepareBufferMax <= 0 {
		ve.Add("gatt.prepare_buffer_max must be > 0")
	}
}

func validateAdvertising(cfg *Config, ve *ValidationError) {
	if err := advertising.ValidateRaw(cfg.Advertising.RawData); err != nil {
		ve.Add("advertising.raw_data: %v", err)
	}
	if err := advertising.ValidateRaw(cfg.Advertising.RawScanRsp); err != nil {
		ve.Add("advertising.raw_scan_rsp: %v", err)
	}
	if _, ok := parseAdvType(cfg.Advertising.Type); !ok {
		ve.Add("advertising.type %q unknown", cfg.Advertising.Type)
	}
	switch strings.ToLower(cfg.Advertising.OwnAddrType) {
	case "public", "random":
	default:
		ve.Add("advertising.own_addr_type %q must be public or random", cfg.Advertising.OwnAddrType)
	}
	if err := cfg.AdvParams().Validate(); err != nil {
		ve.Add("advertising: %v", err)
	}
}

func validateConnection(cfg *Config, ve *ValidationError) {
	if err := cfg.ConnParams().Validate(); err != nil {
		ve.Add("connection: %v", err)
	}
}

func validateNotifier(cfg *Config, ve *ValidationError) {
	if cfg.Notifier.Interval <= 0 {
		ve.Add("notifier.interval must be > 0")
	}
	switch cfg.Notifier.Payload {
	case PayloadRamp, PayloadFrames:
	default:
		ve.Add("notifier.payload %q must be %q or %q", cfg.Notifier.Payload, PayloadRamp, PayloadFrames)
	}
}

func validateRuntime(cfg *Config, ve *ValidationError) {
	switch cfg.Backend {
	case BackendWire, BackendRadio:
	default:
		ve.Add("backend %q must be %q or %q", cfg.Backend, BackendWire, BackendRadio)
	}
	level := strings.ToUpper(cfg.Logger.Level)
	if logger.ParseLevel(level) == logger.INFO && level != "INFO" {
		ve.Add("logger.level %q unknown", cfg.Logger.Level)
	}
}

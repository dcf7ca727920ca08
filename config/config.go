package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/user/gatts-table/wire/advertising"
	"github.com/user/gatts-table/wire/l2cap"
)

// Config is the peripheral configuration. Defaults reproduce the firmware
// constants of the S-Patch3 table demo.
type Config struct {
	Device      DeviceConfig      `yaml:"device"`
	GATT        GATTConfig        `yaml:"gatt"`
	Advertising AdvertisingConfig `yaml:"advertising"`
	Connection  ConnectionConfig  `yaml:"connection"`
	Notifier    NotifierConfig    `yaml:"notifier"`
	Backend     string            `yaml:"backend"` // "wire" or "radio"
	Logger      LoggerConfig      `yaml:"logger"`
}

// DeviceConfig identifies the peripheral.
type DeviceConfig struct {
	Name     string `yaml:"name"`
	ID       string `yaml:"id"` // socket name for the wire backend
	AppID    uint16 `yaml:"app_id"`
	LocalMTU uint16 `yaml:"local_mtu"`
}

// GATTConfig bounds attribute values.
type GATTConfig struct {
	CharValueMaxLen  int `yaml:"char_value_max_len"`
	PrepareBufferMax int `yaml:"prepare_buffer_max"`
}

// AdvertisingConfig holds the raw payloads and advertising parameters.
type AdvertisingConfig struct {
	RawData     HexBytes `yaml:"raw_data"`
	RawScanRsp  HexBytes `yaml:"raw_scan_rsp"`
	IntervalMin uint16   `yaml:"interval_min"` // 0.625 ms units
	IntervalMax uint16   `yaml:"interval_max"`
	Type        string   `yaml:"type"`
	OwnAddrType string   `yaml:"own_addr_type"` // "public" or "random"
	ChannelMap  uint8    `yaml:"channel_map"`
}

// ConnectionConfig holds the parameters requested after connect.
type ConnectionConfig struct {
	IntervalMin uint16 `yaml:"interval_min"` // 1.25 ms units
	IntervalMax uint16 `yaml:"interval_max"`
	Latency     uint16 `yaml:"latency"`
	Timeout     uint16 `yaml:"timeout"` // 10 ms units
}

// NotifierConfig drives the background notifier.
type NotifierConfig struct {
	Interval time.Duration `yaml:"interval"`
	Payload  string        `yaml:"payload"` // "ramp" or "frames"
}

// LoggerConfig selects log output.
type LoggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
	Trace bool   `yaml:"trace"` // JSONL packet trace under the data dir
}

// Payload sources for the notifier
const (
	PayloadRamp   = "ramp"
	PayloadFrames = "frames"
)

// Backends
const (
	BackendWire  = "wire"
	BackendRadio = "radio"
)

// HexBytes is a byte string written in YAML as hex, e.g. "02 01 06".
type HexBytes []byte

// UnmarshalYAML accepts hex with optional spaces, colons or a 0x prefix.
func (h *HexBytes) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	b, err := ParseHex(s)
	if err != nil {
		return err
	}
	*h = b
	return nil
}

// MarshalYAML writes space separated hex.
func (h HexBytes) MarshalYAML() (interface{}, error) {
	return h.String(), nil
}

func (h HexBytes) String() string {
	parts := make([]string, len(h))
	for i, b := range h {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, " ")
}

// ParseHex decodes "02 01 06", "02:01:06" or "0x020106".
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	s = strings.NewReplacer(" ", "", ":", "", "\n", "", "\t", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return b, nil
}

var defaultRawAdv = []byte{
	0x02, 0x01, 0x06,
	0x1A, 0xFF, 0x75, 0x00, 0x02, 0x15, 0x58, 0x5C, 0xDE, 0x93, 0x1B, 0x01,
	0x42, 0xCC, 0x9A, 0x13, 0x25, 0x00, 0x9B, 0xED, 0xC6, 0x5E, 0x53, 0x48,
	0xAF, 0x22, 0xC5, 0x09,
}

var defaultRawScanRsp = []byte{
	0x09, 0x53, 0x2D, 0x50, 0x41, 0x54, 0x43, 0x48, 0x33, 0x13,
	0x16, 0x0A, 0x18, 0x09, 0xC5, 0xFF, 0x5C, 0x6A, 0x00, 0xAA,
	0x00, 0x34, 0x12, 0xBC, 0x9A, 0x78, 0x01, 0x00, 0x00,
}

// Defaults returns the firmware configuration.
func Defaults() *Config {
	conn := l2cap.PreferredParameters()
	adv := advertising.DefaultParams()
	return &Config{
		Device: DeviceConfig{
			Name:     "S-PATCH3",
			ID:       "s-patch3",
			AppID:    0x55,
			LocalMTU: 500,
		},
		GATT: GATTConfig{
			CharValueMaxLen:  500,
			PrepareBufferMax: 1024,
		},
		Advertising: AdvertisingConfig{
			RawData:     append(HexBytes(nil), defaultRawAdv...),
			RawScanRsp:  append(HexBytes(nil), defaultRawScanRsp...),
			IntervalMin: adv.IntervalMin,
			IntervalMax: adv.IntervalMax,
			Type:        adv.Type.String(),
			OwnAddrType: "public",
			ChannelMap:  adv.ChannelMap,
		},
		Connection: ConnectionConfig{
			IntervalMin: conn.IntervalMin,
			IntervalMax: conn.IntervalMax,
			Latency:     conn.Latency,
			Timeout:     conn.Timeout,
		},
		Notifier: NotifierConfig{
			Interval: 10 * time.Millisecond,
			Payload:  PayloadRamp,
		},
		Backend: BackendWire,
		Logger: LoggerConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file, applies env var overrides and validates.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps GATTS_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("GATTS_DEVICE_NAME"); v != "" {
		cfg.Device.Name = v
	}
	if v := os.Getenv("GATTS_DEVICE_ID"); v != "" {
		cfg.Device.ID = v
	}
	if v := os.Getenv("GATTS_LOCAL_MTU"); v != "" {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return fmt.Errorf("GATTS_LOCAL_MTU: %w", err)
		}
		cfg.Device.LocalMTU = uint16(n)
	}
	if v := os.Getenv("GATTS_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("GATTS_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("GATTS_LOG_JSON"); v != "" {
		cfg.Logger.JSON = v == "true"
	}
	if v := os.Getenv("GATTS_TRACE"); v != "" {
		cfg.Logger.Trace = v == "true"
	}
	if v := os.Getenv("GATTS_NOTIFY_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("GATTS_NOTIFY_INTERVAL: %w", err)
		}
		cfg.Notifier.Interval = d
	}
	if v := os.Getenv("GATTS_NOTIFY_PAYLOAD"); v != "" {
		cfg.Notifier.Payload = v
	}
	return nil
}

// AdvParams converts the advertising section. Validate must have passed.
func (c *Config) AdvParams() advertising.Params {
	p := advertising.Params{
		IntervalMin:  c.Advertising.IntervalMin,
		IntervalMax:  c.Advertising.IntervalMax,
		ChannelMap:   c.Advertising.ChannelMap,
		FilterPolicy: advertising.FilterAllowScanAnyConAny,
		OwnAddrType:  advertising.AddrPublic,
	}
	if t, ok := parseAdvType(c.Advertising.Type); ok {
		p.Type = t
	}
	if strings.EqualFold(c.Advertising.OwnAddrType, "random") {
		p.OwnAddrType = advertising.AddrRandom
	}
	return p
}

// ConnParams converts the connection section.
func (c *Config) ConnParams() l2cap.ConnectionParameters {
	return l2cap.ConnectionParameters{
		IntervalMin: c.Connection.IntervalMin,
		IntervalMax: c.Connection.IntervalMax,
		Latency:     c.Connection.Latency,
		Timeout:     c.Connection.Timeout,
	}
}

func parseAdvType(s string) (advertising.Type, bool) {
	for t := advertising.TypeInd; t <= advertising.TypeDirectIndL; t++ {
		if strings.EqualFold(t.String(), s) {
			return t, true
		}
	}
	return 0, false
}

package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	pelletier "github.com/pelletier/go-toml/v2"
)

// Duration is a time.Duration that reads and writes as a Go duration string.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func Dur(d time.Duration) Duration {
	return Duration{Duration: d}
}

type PortsConfig struct {
	GeneralTCP     uint16 `toml:"general_tcp"`
	ImageTCP       uint16 `toml:"image_tcp"`
	ImageUDP       uint16 `toml:"image_udp"`
	ReceiveDataUDP uint16 `toml:"receive_data_udp"`
}

type QueueConfig struct {
	Capacity   int      `toml:"capacity"`
	SubmitWait Duration `toml:"submit_wait"`
}

type TransferConfig struct {
	MaxPacketSize     int      `toml:"max_packet_size"`
	UDPPacketSize     int      `toml:"udp_packet_size"`
	TCPRetryAttempts  int      `toml:"tcp_retry_attempts"`
	UDPRetryAttempts  int      `toml:"udp_retry_attempts"`
	RetryDelay        Duration `toml:"retry_delay"`
	UDPPacketInterval Duration `toml:"udp_packet_interval"`
	DialTimeout       Duration `toml:"dial_timeout"`
	ReadTimeout       Duration `toml:"read_timeout"`
	WriteTimeout      Duration `toml:"write_timeout"`
}

type LinkConfig struct {
	Interface    string   `toml:"interface"`
	PollInterval Duration `toml:"poll_interval"`
}

type ReporterConfig struct {
	Interval Duration `toml:"interval"`
}

type StatusConfig struct {
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
	// Token, when set, is required as a bearer token on /messages routes.
	Token string `toml:"token"`
}

type JournalConfig struct {
	Driver   string `toml:"driver"`
	Path     string `toml:"path"`
	Capacity int    `toml:"capacity"`
}

type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	NoColor    bool   `toml:"no_color"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

type NodeConfig struct {
	DeviceID  uint32         `toml:"device_id"`
	DeviceTag string         `toml:"device_tag"`
	PeerHost  string         `toml:"peer_host"`
	Ports     PortsConfig    `toml:"ports"`
	Queue     QueueConfig    `toml:"queue"`
	Transfer  TransferConfig `toml:"transfer"`
	Link      LinkConfig     `toml:"link"`
	Reporter  ReporterConfig `toml:"reporter"`
	Status    StatusConfig   `toml:"status"`
	Journal   JournalConfig  `toml:"journal"`
	Log       LogConfig      `toml:"log"`
}

type PeerConfig struct {
	ListenHost      string      `toml:"listen_host"`
	Ports           PortsConfig `toml:"ports"`
	DeviceTag       string      `toml:"device_tag"`
	OutputDir       string      `toml:"output_dir"`
	ReplyData       string      `toml:"reply_data"`
	MaxPayloadBytes uint64      `toml:"max_payload_bytes"`
	Log             LogConfig   `toml:"log"`
}

const (
	JournalMemory = "memory"
	JournalSQLite = "sqlite"
)

func DefaultPorts() PortsConfig {
	return PortsConfig{
		GeneralTCP:     9999,
		ImageTCP:       1111,
		ImageUDP:       4444,
		ReceiveDataUDP: 8888,
	}
}

func DefaultLogConfig() LogConfig {
	return LogConfig{Level: "info", Format: "console"}
}

func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		DeviceID:  1,
		DeviceTag: "node01",
		PeerHost:  "127.0.0.1",
		Ports:     DefaultPorts(),
		Queue: QueueConfig{
			Capacity: 50,
		},
		Transfer: TransferConfig{
			MaxPacketSize:     1024,
			UDPPacketSize:     1024,
			TCPRetryAttempts:  4,
			UDPRetryAttempts:  3,
			RetryDelay:        Dur(10 * time.Millisecond),
			UDPPacketInterval: Dur(15 * time.Millisecond),
			DialTimeout:       Dur(5 * time.Second),
		},
		Link: LinkConfig{
			PollInterval: Dur(time.Second),
		},
		Reporter: ReporterConfig{
			Interval: Dur(30 * time.Second),
		},
		Status: StatusConfig{
			Addr:        "127.0.0.1:8090",
			CorsOrigins: []string{"http://localhost:3000"},
		},
		Journal: JournalConfig{
			Driver:   JournalMemory,
			Capacity: 256,
		},
		Log: DefaultLogConfig(),
	}
}

func DefaultPeerConfig() PeerConfig {
	return PeerConfig{
		ListenHost:      "0.0.0.0",
		Ports:           DefaultPorts(),
		DeviceTag:       "node01",
		OutputDir:       "local/images",
		MaxPayloadBytes: 16 * 1024 * 1024,
		Log:             DefaultLogConfig(),
	}
}

// LoadNodeConfig decodes path over DefaultNodeConfig and validates the result.
// Unknown keys are rejected.
func LoadNodeConfig(path string) (NodeConfig, error) {
	cfg := DefaultNodeConfig()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return NodeConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return NodeConfig{}, fmt.Errorf("config parse failed (%s): unknown keys %s", path, strings.Join(keys, ", "))
	}
	if meta.IsDefined("journal", "driver") && !meta.IsDefined("journal", "path") &&
		strings.EqualFold(cfg.Journal.Driver, JournalSQLite) {
		cfg.Journal.Path = "local/journal.db"
	}
	cfg.DeviceTag = strings.TrimSpace(cfg.DeviceTag)
	cfg.Journal.Driver = strings.ToLower(strings.TrimSpace(cfg.Journal.Driver))
	if err := ValidateNodeConfig(cfg); err != nil {
		return NodeConfig{}, err
	}
	return cfg, nil
}

func LoadPeerConfig(path string) (PeerConfig, error) {
	cfg := DefaultPeerConfig()
	if err := loadToml(path, &cfg); err != nil {
		return PeerConfig{}, err
	}
	if strings.TrimSpace(cfg.ListenHost) == "" {
		cfg.ListenHost = "0.0.0.0"
	}
	if err := ValidatePeerConfig(cfg); err != nil {
		return PeerConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := pelletier.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidatePorts(p PortsConfig) error {
	if p.GeneralTCP == 0 || p.ImageTCP == 0 || p.ImageUDP == 0 || p.ReceiveDataUDP == 0 {
		return fmt.Errorf("ports must be non-zero: %+v", p)
	}
	return nil
}

func ValidateNodeConfig(cfg NodeConfig) error {
	var errs []error
	if strings.TrimSpace(cfg.PeerHost) == "" {
		errs = append(errs, fmt.Errorf("node config missing peer_host"))
	}
	if cfg.DeviceID > 999_999_999 {
		errs = append(errs, fmt.Errorf("device_id %d does not fit a header line", cfg.DeviceID))
	}
	if len(cfg.DeviceTag) > 10 || strings.Contains(cfg.DeviceTag, "-") {
		errs = append(errs, fmt.Errorf("device_tag %q must be at most 10 bytes without '-'", cfg.DeviceTag))
	}
	if err := ValidatePorts(cfg.Ports); err != nil {
		errs = append(errs, err)
	}
	if cfg.Queue.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("queue.capacity must be positive"))
	}
	if cfg.Queue.SubmitWait.Duration < 0 {
		errs = append(errs, fmt.Errorf("queue.submit_wait must not be negative"))
	}
	t := cfg.Transfer
	if t.MaxPacketSize <= 0 {
		errs = append(errs, fmt.Errorf("transfer.max_packet_size must be positive"))
	}
	if t.UDPPacketSize <= 10 {
		errs = append(errs, fmt.Errorf("transfer.udp_packet_size must exceed the 10-byte tag"))
	}
	if t.TCPRetryAttempts <= 0 || t.UDPRetryAttempts <= 0 {
		errs = append(errs, fmt.Errorf("transfer retry attempts must be positive"))
	}
	if t.RetryDelay.Duration < 0 || t.UDPPacketInterval.Duration < 0 ||
		t.DialTimeout.Duration < 0 || t.ReadTimeout.Duration < 0 || t.WriteTimeout.Duration < 0 {
		errs = append(errs, fmt.Errorf("transfer durations must not be negative"))
	}
	if strings.TrimSpace(cfg.Link.Interface) != "" && cfg.Link.PollInterval.Duration <= 0 {
		errs = append(errs, fmt.Errorf("link.poll_interval must be positive when link.interface is set"))
	}
	if cfg.Reporter.Interval.Duration < 0 {
		errs = append(errs, fmt.Errorf("reporter.interval must not be negative"))
	}
	switch cfg.Journal.Driver {
	case JournalMemory:
		if cfg.Journal.Capacity <= 0 {
			errs = append(errs, fmt.Errorf("journal.capacity must be positive"))
		}
	case JournalSQLite:
		if strings.TrimSpace(cfg.Journal.Path) == "" {
			errs = append(errs, fmt.Errorf("journal.path required for sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown journal.driver %q", cfg.Journal.Driver))
	}
	return errors.Join(errs...)
}

func ValidatePeerConfig(cfg PeerConfig) error {
	var errs []error
	if err := ValidatePorts(cfg.Ports); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		errs = append(errs, fmt.Errorf("peer config missing output_dir"))
	}
	if cfg.MaxPayloadBytes == 0 {
		errs = append(errs, fmt.Errorf("peer config max_payload_bytes must be positive"))
	}
	if len(cfg.DeviceTag) > 10 {
		errs = append(errs, fmt.Errorf("device_tag %q longer than 10 bytes", cfg.DeviceTag))
	}
	return errors.Join(errs...)
}

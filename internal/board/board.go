package board

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"

	"github.com/bigbag/cviload/embedded"
	"github.com/bigbag/cviload/internal/bootheader"
	"github.com/bigbag/cviload/internal/protocol"
)

// Commands holds the command codes used by a download.
type Commands struct {
	WriteRAM     byte
	TxFlag       byte
	Break        byte
	KeepDownload byte
}

// Profile describes one board's ROM loader. Copy it freely; nothing in the
// package mutates a Profile after Load returns.
type Profile struct {
	Name string

	VendorID  uint16
	ProductID uint16

	BaudRate  int
	OpTimeout time.Duration

	DiscoveryTimeout time.Duration
	PollInterval     time.Duration
	SettleDelay      time.Duration

	ChunkSize   int
	DummyAddr   uint64
	FlagAddr    uint64
	BootFlag    [4]byte
	Commands    Commands
	HeaderParam bootheader.Params
}

type fileConfig struct {
	Name      string          `toml:"name"`
	USB       usbConfig       `toml:"usb"`
	Serial    serialConfig    `toml:"serial"`
	Discovery discoveryConfig `toml:"discovery"`
	Transfer  transferConfig  `toml:"transfer"`
	Commands  commandsConfig  `toml:"commands"`
	Header    headerConfig    `toml:"header"`
}

type usbConfig struct {
	VID int64 `toml:"vid"`
	PID int64 `toml:"pid"`
}

type serialConfig struct {
	BaudRate  int    `toml:"baud_rate"`
	OpTimeout string `toml:"op_timeout"`
}

type discoveryConfig struct {
	Timeout      string `toml:"timeout"`
	PollInterval string `toml:"poll_interval"`
	SettleDelay  string `toml:"settle_delay"`
}

type transferConfig struct {
	ChunkSize int    `toml:"chunk_size"`
	DummyAddr int64  `toml:"dummy_addr"`
	FlagAddr  int64  `toml:"flag_addr"`
	BootFlag  string `toml:"boot_flag"`
}

type commandsConfig struct {
	WriteRAM     int64 `toml:"write_ram"`
	TxFlag       int64 `toml:"tx_flag"`
	Break        int64 `toml:"break"`
	KeepDownload int64 `toml:"keep_download"`
}

type headerConfig struct {
	Magic          string    `toml:"magic"`
	BLCPImgRunAddr int64     `toml:"blcp_img_runaddr"`
	Param2LoadAddr int64     `toml:"param2_loadaddr"`
	ChipConf       [][]int64 `toml:"chip_conf"`
}

// Default returns the embedded Milk-V Duo S profile.
func Default() Profile {
	p, err := decode(Profile{}, string(embedded.DefaultProfile()))
	if err != nil {
		panic(fmt.Sprintf("embedded board profile: %v", err))
	}
	return p
}

// Load applies the TOML file at path on top of the default profile. Keys
// missing from the file keep their default value.
func Load(path string) (Profile, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Profile{}, fmt.Errorf("load board profile: %w", err)
	}
	return apply(Default(), raw, meta)
}

func decode(base Profile, data string) (Profile, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Profile{}, fmt.Errorf("decode board profile: %w", err)
	}
	return apply(base, raw, meta)
}

func apply(p Profile, raw fileConfig, meta toml.MetaData) (Profile, error) {
	var errs *multierror.Error

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		errs = multierror.Append(errs, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", ")))
	}

	if meta.IsDefined("name") {
		p.Name = strings.TrimSpace(raw.Name)
	}

	if meta.IsDefined("usb", "vid") {
		p.VendorID = uint16(raw.USB.VID)
		errs = checkRange(errs, "usb.vid", raw.USB.VID, 0xFFFF)
	}
	if meta.IsDefined("usb", "pid") {
		p.ProductID = uint16(raw.USB.PID)
		errs = checkRange(errs, "usb.pid", raw.USB.PID, 0xFFFF)
	}

	if meta.IsDefined("serial", "baud_rate") {
		p.BaudRate = raw.Serial.BaudRate
	}
	if meta.IsDefined("serial", "op_timeout") {
		p.OpTimeout, errs = parseDuration(errs, "serial.op_timeout", raw.Serial.OpTimeout, p.OpTimeout)
	}

	if meta.IsDefined("discovery", "timeout") {
		p.DiscoveryTimeout, errs = parseDuration(errs, "discovery.timeout", raw.Discovery.Timeout, p.DiscoveryTimeout)
	}
	if meta.IsDefined("discovery", "poll_interval") {
		p.PollInterval, errs = parseDuration(errs, "discovery.poll_interval", raw.Discovery.PollInterval, p.PollInterval)
	}
	if meta.IsDefined("discovery", "settle_delay") {
		p.SettleDelay, errs = parseDuration(errs, "discovery.settle_delay", raw.Discovery.SettleDelay, p.SettleDelay)
	}

	if meta.IsDefined("transfer", "chunk_size") {
		p.ChunkSize = raw.Transfer.ChunkSize
	}
	if meta.IsDefined("transfer", "dummy_addr") {
		p.DummyAddr = uint64(raw.Transfer.DummyAddr)
		errs = checkRange(errs, "transfer.dummy_addr", raw.Transfer.DummyAddr, protocol.AddressMask)
	}
	if meta.IsDefined("transfer", "flag_addr") {
		p.FlagAddr = uint64(raw.Transfer.FlagAddr)
		errs = checkRange(errs, "transfer.flag_addr", raw.Transfer.FlagAddr, protocol.AddressMask)
	}
	if meta.IsDefined("transfer", "boot_flag") {
		if len(raw.Transfer.BootFlag) != len(p.BootFlag) {
			errs = multierror.Append(errs, fmt.Errorf("transfer.boot_flag %q: want %d bytes", raw.Transfer.BootFlag, len(p.BootFlag)))
		} else {
			copy(p.BootFlag[:], raw.Transfer.BootFlag)
		}
	}

	commands := []struct {
		key string
		raw int64
		dst *byte
	}{
		{"write_ram", raw.Commands.WriteRAM, &p.Commands.WriteRAM},
		{"tx_flag", raw.Commands.TxFlag, &p.Commands.TxFlag},
		{"break", raw.Commands.Break, &p.Commands.Break},
		{"keep_download", raw.Commands.KeepDownload, &p.Commands.KeepDownload},
	}
	for _, c := range commands {
		if !meta.IsDefined("commands", c.key) {
			continue
		}
		*c.dst = byte(c.raw)
		errs = checkRange(errs, "commands."+c.key, c.raw, 0xFF)
	}

	if meta.IsDefined("header", "magic") {
		if len(raw.Header.Magic) > len(p.HeaderParam.Magic) {
			errs = multierror.Append(errs, fmt.Errorf("header.magic %q: longer than %d bytes", raw.Header.Magic, len(p.HeaderParam.Magic)))
		} else {
			p.HeaderParam.Magic = [8]byte{}
			copy(p.HeaderParam.Magic[:], raw.Header.Magic)
		}
	}
	if meta.IsDefined("header", "blcp_img_runaddr") {
		p.HeaderParam.BLCPImgRunAddr = uint32(raw.Header.BLCPImgRunAddr)
		errs = checkRange(errs, "header.blcp_img_runaddr", raw.Header.BLCPImgRunAddr, 0xFFFFFFFF)
	}
	if meta.IsDefined("header", "param2_loadaddr") {
		p.HeaderParam.Param2LoadAddr = uint32(raw.Header.Param2LoadAddr)
		errs = checkRange(errs, "header.param2_loadaddr", raw.Header.Param2LoadAddr, 0xFFFFFFFF)
	}
	if meta.IsDefined("header", "chip_conf") {
		conf, err := chipConf(raw.Header.ChipConf)
		if err != nil {
			errs = multierror.Append(errs, err)
		}
		p.HeaderParam.ChipConf = conf
	}

	if err := errs.ErrorOrNil(); err != nil {
		return Profile{}, fmt.Errorf("invalid board profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// chipConf packs (register, value) pairs as little-endian words.
func chipConf(pairs [][]int64) ([bootheader.ChipConfPrefixSize]byte, error) {
	var out [bootheader.ChipConfPrefixSize]byte
	if len(pairs)*8 > len(out) {
		return out, fmt.Errorf("header.chip_conf: %d entries, at most %d fit", len(pairs), len(out)/8)
	}
	for i, pair := range pairs {
		if len(pair) != 2 {
			return out, fmt.Errorf("header.chip_conf[%d]: want [register, value], got %d values", i, len(pair))
		}
		for j, v := range pair {
			if v < 0 || v > 0xFFFFFFFF {
				return out, fmt.Errorf("header.chip_conf[%d][%d]: 0x%X does not fit 32 bits", i, j, v)
			}
			binary.LittleEndian.PutUint32(out[i*8+j*4:], uint32(v))
		}
	}
	return out, nil
}

func checkRange(errs *multierror.Error, key string, v, max int64) *multierror.Error {
	if v < 0 || v > max {
		return multierror.Append(errs, fmt.Errorf("%s: 0x%X out of range [0, 0x%X]", key, v, max))
	}
	return errs
}

func parseDuration(errs *multierror.Error, key, s string, fallback time.Duration) (time.Duration, *multierror.Error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fallback, multierror.Append(errs, fmt.Errorf("parse %s: %w", key, err))
	}
	return d, errs
}

// Validate reports every setting the loader cannot work with.
func (p Profile) Validate() error {
	var errs *multierror.Error

	if p.Name == "" {
		errs = multierror.Append(errs, fmt.Errorf("name is empty"))
	}
	if p.VendorID == 0 && p.ProductID == 0 {
		errs = multierror.Append(errs, fmt.Errorf("usb vid/pid are both zero"))
	}
	if p.BaudRate <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("baud rate %d must be positive", p.BaudRate))
	}
	if p.OpTimeout <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("operation timeout %v must be positive", p.OpTimeout))
	}
	if p.DiscoveryTimeout <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("discovery timeout %v must be positive", p.DiscoveryTimeout))
	}
	if p.PollInterval <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("poll interval %v must be positive", p.PollInterval))
	} else if p.PollInterval > p.DiscoveryTimeout {
		errs = multierror.Append(errs, fmt.Errorf("poll interval %v exceeds discovery timeout %v", p.PollInterval, p.DiscoveryTimeout))
	}
	if p.SettleDelay < 0 {
		errs = multierror.Append(errs, fmt.Errorf("settle delay %v must not be negative", p.SettleDelay))
	}
	if p.ChunkSize <= 0 || p.ChunkSize > protocol.MaxBodySize {
		errs = multierror.Append(errs, fmt.Errorf("chunk size %d out of range [1, %d]", p.ChunkSize, protocol.MaxBodySize))
	}
	if p.DummyAddr > protocol.AddressMask {
		errs = multierror.Append(errs, fmt.Errorf("dummy address 0x%X exceeds %d bits", p.DummyAddr, protocol.AddressBits))
	}
	if p.FlagAddr > protocol.AddressMask {
		errs = multierror.Append(errs, fmt.Errorf("flag address 0x%X exceeds %d bits", p.FlagAddr, protocol.AddressBits))
	}
	if p.BootFlag == [4]byte{} {
		errs = multierror.Append(errs, fmt.Errorf("boot flag is empty"))
	}
	if p.HeaderParam.Magic == [8]byte{} {
		errs = multierror.Append(errs, fmt.Errorf("header magic is empty"))
	}

	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("invalid board profile: %w", err)
	}
	return nil
}

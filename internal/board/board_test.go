package board

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bigbag/cviload/internal/bootheader"
	"github.com/bigbag/cviload/internal/protocol"
)

func writeProfile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	p := Default()

	require.Equal(t, "milkv-duos", p.Name)
	require.Equal(t, uint16(0x3346), p.VendorID)
	require.Equal(t, uint16(0x1000), p.ProductID)
	require.Equal(t, protocol.DefaultBaudRate, p.BaudRate)
	require.Equal(t, 10*time.Second, p.OpTimeout)
	require.Equal(t, 120*time.Second, p.DiscoveryTimeout)
	require.Equal(t, 50*time.Millisecond, p.PollInterval)
	require.Equal(t, 500*time.Millisecond, p.SettleDelay)
	require.Equal(t, protocol.DefaultChunkSize, p.ChunkSize)
	require.Equal(t, uint64(protocol.DummyAddress), p.DummyAddr)
	require.Equal(t, uint64(protocol.FlagAddress), p.FlagAddr)
	require.Equal(t, protocol.FlagBootUSB, p.BootFlag)

	require.Equal(t, Commands{
		WriteRAM:     protocol.CmdTxDataToRAM,
		TxFlag:       protocol.CmdTxFlag,
		Break:        protocol.CmdBreak,
		KeepDownload: protocol.CmdKeepDownload,
	}, p.Commands)

	require.Equal(t, bootheader.DefaultMagic, string(p.HeaderParam.Magic[:]))
	require.Equal(t, uint32(0x05200200), p.HeaderParam.BLCPImgRunAddr)
	require.Equal(t, uint32(0x0000C000), p.HeaderParam.Param2LoadAddr)
	require.Equal(t, uint32(0x0E00000C), binary.LittleEndian.Uint32(p.HeaderParam.ChipConf[0:]))
	require.Equal(t, uint32(0xA0000001), binary.LittleEndian.Uint32(p.HeaderParam.ChipConf[4:]))
	require.Equal(t, uint32(0xFFFFFFFF), binary.LittleEndian.Uint32(p.HeaderParam.ChipConf[20:]))

	require.NoError(t, p.Validate())
}

func TestDefault_ReturnsIndependentCopies(t *testing.T) {
	a := Default()
	a.BootFlag[0] = 'X'
	a.HeaderParam.Magic[0] = 'X'

	b := Default()
	require.Equal(t, protocol.FlagBootUSB, b.BootFlag)
	require.Equal(t, byte('C'), b.HeaderParam.Magic[0])
}

func TestLoad_Overrides(t *testing.T) {
	path := writeProfile(t, `
name = "duos-sd"

[discovery]
timeout = "5s"

[transfer]
boot_flag = "2NGM"
chunk_size = 512

[header]
chip_conf = [[0x1, 0x2]]
`)

	p, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "duos-sd", p.Name)
	require.Equal(t, 5*time.Second, p.DiscoveryTimeout)
	require.Equal(t, protocol.FlagBootSD, p.BootFlag)
	require.Equal(t, 512, p.ChunkSize)

	var conf [bootheader.ChipConfPrefixSize]byte
	conf[0] = 0x1
	conf[4] = 0x2
	require.Equal(t, conf, p.HeaderParam.ChipConf)

	def := Default()
	require.Equal(t, def.VendorID, p.VendorID)
	require.Equal(t, def.PollInterval, p.PollInterval)
	require.Equal(t, def.Commands, p.Commands)
	require.Equal(t, def.HeaderParam.Magic, p.HeaderParam.Magic)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad duration", "[serial]\nop_timeout = \"soon\"\n", "serial.op_timeout"},
		{"bad boot flag", "[transfer]\nboot_flag = \"USB\"\n", "transfer.boot_flag"},
		{"vid overflow", "[usb]\nvid = 0x10000\n", "usb.vid"},
		{"command overflow", "[commands]\nbreak = 256\n", "commands.break"},
		{"long magic", "[header]\nmagic = \"TOO-LONG-MAGIC\"\n", "header.magic"},
		{"too many chip conf", "[header]\nchip_conf = [[1,2],[3,4],[5,6],[7,8]]\n", "at most 3 fit"},
		{"short chip conf pair", "[header]\nchip_conf = [[1]]\n", "header.chip_conf[0]"},
		{"unknown key", "speed = 1\n", "unknown keys: speed"},
		{"zero chunk", "[transfer]\nchunk_size = 0\n", "chunk size 0"},
		{"poll exceeds timeout", "[discovery]\ntimeout = \"10ms\"\n", "exceeds discovery timeout"},
		{"not toml", "name = \n", "load board profile"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeProfile(t, tt.content))
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate_CollectsAll(t *testing.T) {
	err := Profile{}.Validate()
	require.Error(t, err)

	for _, want := range []string{
		"name is empty",
		"usb vid/pid",
		"baud rate",
		"operation timeout",
		"discovery timeout",
		"poll interval",
		"chunk size",
		"boot flag",
		"header magic",
	} {
		require.Contains(t, err.Error(), want)
	}
}

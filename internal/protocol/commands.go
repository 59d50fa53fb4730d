package protocol

// Mask ROM USB download commands
const (
	CmdTxDataToRAM  = 0x00
	CmdTxFlag       = 0x01
	CmdBreak        = 0x02
	CmdKeepDownload = 0x03
	CmdUBreak       = 0x04
	CmdProgramCmd   = 0x06
	CmdReboot       = 0x16
	CmdProgram      = 0x83
)

// Frame layout
const (
	HeaderSize   = 8
	ResponseSize = 16
	MaxBodySize  = 0xFFFF - HeaderSize
	AddressBits  = 40
	AddressMask  = 1<<AddressBits - 1
)

// Response offsets
const (
	RspChecksumHiOffset = 2
	RspChecksumLoOffset = 3
	RspTokenOffset      = 6
)

// Transfer parameters
const (
	DefaultBaudRate  = 115200
	DefaultChunkSize = 0x100
	DummyAddress     = 0xFF
	FlagAddress      = 0x0E000004
)

// Boot source flags written to FlagAddress after a transfer phase.
var (
	FlagBootUSB = [4]byte{'1', 'N', 'G', 'M'}
	FlagBootSD  = [4]byte{'2', 'N', 'G', 'M'}
)

// CommandName returns human-readable name for a command code
func CommandName(cmd byte) string {
	switch cmd {
	case CmdTxDataToRAM:
		return "tx-data-to-ram"
	case CmdTxFlag:
		return "tx-flag"
	case CmdBreak:
		return "break"
	case CmdKeepDownload:
		return "keep-download"
	case CmdUBreak:
		return "ubreak"
	case CmdProgramCmd:
		return "program-cmd"
	case CmdReboot:
		return "reboot"
	case CmdProgram:
		return "program"
	default:
		return "unknown"
	}
}

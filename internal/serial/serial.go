package serial

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"

	"github.com/bigbag/cviload/internal/protocol"
)

// rawPort is the subset of serial.Port a session needs.
type rawPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// OpenError reports an enumerated device whose interface could not be opened.
type OpenError struct {
	Port string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("failed to open port %s: %v", e.Port, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// IOError reports a write or read that did not transfer the full frame.
type IOError struct {
	Op   string
	Port string
	Want int
	Got  int
	Err  error
}

func (e *IOError) Error() string {
	msg := fmt.Sprintf("%s on %s: transferred %d of %d bytes", e.Op, e.Port, e.Got, e.Want)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Port is one open connection to the ROM loader.
type Port struct {
	port     rawPort
	portName string
	baudRate int
	timeout  time.Duration
}

// Open opens a serial port at baudRate, 8N1. timeout bounds every read
// performed by Exchange.
func Open(portName string, baudRate int, timeout time.Duration) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, &OpenError{Port: portName, Err: err}
	}

	p, err := newPort(port, portName, baudRate, timeout)
	if err != nil {
		port.Close()
		return nil, &OpenError{Port: portName, Err: err}
	}
	return p, nil
}

func newPort(port rawPort, portName string, baudRate int, timeout time.Duration) (*Port, error) {
	if err := port.SetReadTimeout(timeout); err != nil {
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return &Port{
		port:     port,
		portName: portName,
		baudRate: baudRate,
		timeout:  timeout,
	}, nil
}

// Close closes the serial port.
func (p *Port) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Exchange writes frame and reads the 16-byte response. Both transfers
// must complete; nothing is retried.
func (p *Port) Exchange(frame []byte) ([]byte, error) {
	n, err := p.port.Write(frame)
	if err != nil || n != len(frame) {
		return nil, &IOError{Op: "write", Port: p.portName, Want: len(frame), Got: n, Err: err}
	}

	resp := make([]byte, protocol.ResponseSize)
	if err := p.readFull(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// readFull fills buf before the operation timeout elapses. The driver
// returns (0, nil) when a single read times out.
func (p *Port) readFull(buf []byte) error {
	deadline := time.Now().Add(p.timeout)
	got := 0

	for got < len(buf) {
		n, err := p.port.Read(buf[got:])
		got += n
		if err != nil {
			return &IOError{Op: "read", Port: p.portName, Want: len(buf), Got: got, Err: err}
		}
		if n == 0 && !time.Now().Before(deadline) {
			return &IOError{Op: "read", Port: p.portName, Want: len(buf), Got: got, Err: errTimeout}
		}
	}
	return nil
}

// PortName returns the port name.
func (p *Port) PortName() string {
	return p.portName
}

// BaudRate returns the current baud rate.
func (p *Port) BaudRate() int {
	return p.baudRate
}

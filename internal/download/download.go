package download

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bigbag/cviload/internal/board"
	"github.com/bigbag/cviload/internal/bootheader"
	"github.com/bigbag/cviload/internal/detect"
	"github.com/bigbag/cviload/internal/protocol"
	"github.com/bigbag/cviload/internal/serial"
)

// DeviceLocator finds the serial port of an enumerated device.
type DeviceLocator interface {
	Locate(vendorID, productID uint16, timeout, poll time.Duration) (string, error)
}

// Session exchanges frames with one opened port.
type Session interface {
	Exchange(frame []byte) ([]byte, error)
	Close() error
}

// Opener opens a Session on a named port.
type Opener func(portName string, baudRate int, timeout time.Duration) (Session, error)

// SerialOpener opens real serial ports.
func SerialOpener() Opener {
	return func(portName string, baudRate int, timeout time.Duration) (Session, error) {
		port, err := serial.Open(portName, baudRate, timeout)
		if err != nil {
			return nil, err
		}
		return port, nil
	}
}

// ProgressCallback is called after every exchange.
type ProgressCallback func(Progress)

var (
	errEmptyHandshake = errors.New("handshake blob is empty")
	errEmptyPayload   = errors.New("payload is empty")
)

// Loader drives the three-phase ROM download of one image.
type Loader struct {
	profile  board.Profile
	locator  DeviceLocator
	open     Opener
	clock    detect.Clock
	log      zerolog.Logger
	progress ProgressCallback
	state    State
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger used for stage and frame messages.
func WithLogger(log zerolog.Logger) Option {
	return func(l *Loader) {
		l.log = log
	}
}

// WithProgressCallback sets the progress callback function.
func WithProgressCallback(cb ProgressCallback) Option {
	return func(l *Loader) {
		l.progress = cb
	}
}

// WithClock replaces the clock used for the settle delay.
func WithClock(c detect.Clock) Option {
	return func(l *Loader) {
		l.clock = c
	}
}

// New creates a Loader for profile.
func New(profile board.Profile, locator DeviceLocator, open Opener, opts ...Option) *Loader {
	l := &Loader{
		profile: profile,
		locator: locator,
		open:    open,
		clock:   detect.SystemClock(),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns the last step the loader reached.
func (l *Loader) State() State {
	return l.state
}

// reportProgress calls the progress callback if set.
func (l *Loader) reportProgress(p Progress) {
	if l.progress != nil {
		l.progress(p)
	}
}

// Run sends handshake, the boot header describing payload, and payload.
// Any failure ends the run with a *PhaseError.
func (l *Loader) Run(handshake, payload []byte) error {
	l.state = StateIdle

	if len(handshake) == 0 {
		return &PhaseError{State: StateIdle, Err: errEmptyHandshake}
	}
	if len(payload) == 0 {
		return &PhaseError{State: StateIdle, Err: errEmptyPayload}
	}

	header, err := bootheader.Build(payload, l.profile.HeaderParam)
	if err != nil {
		return &PhaseError{State: StateIdle, Err: fmt.Errorf("failed to build boot header: %w", err)}
	}
	l.log.Info().
		Int("payload_bytes", len(payload)).
		Int("header_bytes", len(header)).
		Msg("boot header built")

	if err := l.phase(StateAwaitDevice1, func(s Session) error {
		return l.sendHandshake(s, StateHandshakeSent1, handshake)
	}); err != nil {
		return err
	}
	l.settle()

	if err := l.phase(StateAwaitDevice2, func(s Session) error {
		if err := l.sendChunks(s, StateHeaderSent, header); err != nil {
			return err
		}
		return l.sendFlag(s, StateFlagSent1)
	}); err != nil {
		return err
	}
	l.settle()

	if err := l.phase(StateAwaitDevice3, func(s Session) error {
		if err := l.sendHandshake(s, StateHandshakeSent2, handshake); err != nil {
			return err
		}
		if err := l.sendChunks(s, StatePayloadSent, payload); err != nil {
			return err
		}
		return l.sendFlag(s, StateFlagSent2)
	}); err != nil {
		return err
	}

	l.enter(StateDone)
	return nil
}

func (l *Loader) enter(s State) {
	l.state = s
	l.log.Info().Str("state", s.String()).Msg("download state")
}

func (l *Loader) settle() {
	if l.profile.SettleDelay > 0 {
		l.log.Debug().Dur("delay", l.profile.SettleDelay).Msg("waiting for device to re-enumerate")
		l.clock.Sleep(l.profile.SettleDelay)
	}
}

// phase locates the device, opens a fresh session, runs fn and closes the
// session again. Sessions never outlive a phase.
func (l *Loader) phase(await State, fn func(Session) error) error {
	l.enter(await)

	p := l.profile
	portName, err := l.locator.Locate(p.VendorID, p.ProductID, p.DiscoveryTimeout, p.PollInterval)
	if err != nil {
		return &PhaseError{State: await, Err: err}
	}

	sess, err := l.open(portName, p.BaudRate, p.OpTimeout)
	if err != nil {
		return &PhaseError{State: await, Err: err}
	}

	runErr := fn(sess)
	if err := sess.Close(); err != nil {
		if runErr == nil {
			return &PhaseError{State: l.state, Err: fmt.Errorf("failed to close %s: %w", portName, err)}
		}
		l.log.Debug().Err(err).Str("port", portName).Msg("close after failure")
	}
	return runErr
}

func (l *Loader) sendHandshake(s Session, state State, handshake []byte) error {
	l.enter(state)
	if err := l.exchange(s, l.profile.Commands.KeepDownload, l.profile.DummyAddr, handshake); err != nil {
		return &PhaseError{State: state, Err: fmt.Errorf("handshake failed: %w", err)}
	}
	l.reportProgress(Progress{State: state, Chunk: 1, Chunks: 1, Bytes: len(handshake), Total: len(handshake)})
	return nil
}

// sendChunks writes data to RAM in ChunkSize pieces, chunk i at i*ChunkSize.
func (l *Loader) sendChunks(s Session, state State, data []byte) error {
	l.enter(state)

	size := l.profile.ChunkSize
	chunks := protocol.Chunks(data, size)
	sent := 0
	for i, chunk := range chunks {
		addr := uint64(i) * uint64(size)
		if err := l.exchange(s, l.profile.Commands.WriteRAM, addr, chunk); err != nil {
			return &PhaseError{State: state, Err: fmt.Errorf("chunk %d/%d at 0x%X failed: %w", i+1, len(chunks), addr, err)}
		}
		sent += len(chunk)
		l.reportProgress(Progress{State: state, Chunk: i + 1, Chunks: len(chunks), Bytes: sent, Total: len(data)})
	}
	return nil
}

// sendFlag writes the boot flag and ends the phase with a break.
func (l *Loader) sendFlag(s Session, state State) error {
	l.enter(state)

	p := l.profile
	if err := l.exchange(s, p.Commands.TxFlag, p.FlagAddr, p.BootFlag[:]); err != nil {
		return &PhaseError{State: state, Err: fmt.Errorf("boot flag failed: %w", err)}
	}
	if err := l.exchange(s, p.Commands.Break, p.DummyAddr, nil); err != nil {
		return &PhaseError{State: state, Err: fmt.Errorf("break failed: %w", err)}
	}
	return nil
}

// exchange sends one frame and validates the echoed checksum.
func (l *Loader) exchange(s Session, cmd byte, addr uint64, body []byte) error {
	frame, err := protocol.BuildFrame(cmd, addr, body)
	if err != nil {
		return err
	}

	resp, err := s.Exchange(frame)
	if err != nil {
		return err
	}

	token, err := protocol.ValidateResponse(frame, resp)
	if err != nil {
		return err
	}

	l.log.Debug().
		Str("cmd", protocol.CommandName(cmd)).
		Uint64("addr", addr).
		Int("len", len(body)).
		Uint8("token", token).
		Msg("frame acknowledged")
	return nil
}

package detect

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial/enumerator"
)

// ErrNotFound is returned when no matching device enumerates in time.
var ErrNotFound = errors.New("device not found")

// NotFoundError carries the identifiers and budget of a failed search.
type NotFoundError struct {
	VendorID  uint16
	ProductID uint16
	Timeout   time.Duration
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %04x:%04x device after %s", e.VendorID, e.ProductID, e.Timeout)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// PortInfo describes one serial interface reported by the OS.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VendorID     uint16
	ProductID    uint16
	SerialNumber string
	Product      string
}

// Matches reports whether p is a USB interface with the given IDs.
func (p PortInfo) Matches(vendorID, productID uint16) bool {
	return p.IsUSB && p.VendorID == vendorID && p.ProductID == productID
}

// Enumerator lists serial interfaces.
type Enumerator interface {
	Ports() ([]PortInfo, error)
}

// EnumeratorFunc adapts a function to Enumerator.
type EnumeratorFunc func() ([]PortInfo, error)

// Ports implements Enumerator.
func (f EnumeratorFunc) Ports() ([]PortInfo, error) {
	return f()
}

// Clock is the time source used while polling.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// SystemClock returns the wall clock.
func SystemClock() Clock {
	return systemClock{}
}

// SystemEnumerator lists ports through the OS serial enumerator.
func SystemEnumerator() Enumerator {
	return EnumeratorFunc(listDetailed)
}

func listDetailed() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		info := PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		}
		if d.IsUSB {
			info.VendorID, _ = parseID(d.VID)
			info.ProductID, _ = parseID(d.PID)
		}
		ports = append(ports, info)
	}
	return ports, nil
}

// parseID parses a hexadecimal USB identifier such as "3346" or "0x3346".
func parseID(s string) (uint16, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid USB id %q: %w", s, err)
	}
	return uint16(v), nil
}

// Locator polls an Enumerator for a device.
type Locator struct {
	enum  Enumerator
	clock Clock
	log   zerolog.Logger
}

// Option configures a Locator.
type Option func(*Locator)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(l *Locator) {
		l.clock = c
	}
}

// WithLogger sets the logger used for discovery messages.
func WithLogger(log zerolog.Logger) Option {
	return func(l *Locator) {
		l.log = log
	}
}

// NewLocator creates a Locator over enum.
func NewLocator(enum Enumerator, opts ...Option) *Locator {
	l := &Locator{
		enum:  enum,
		clock: SystemClock(),
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Locate blocks until a USB interface with the given IDs enumerates and
// returns its name. A failed enumeration is retried like an empty one.
// After timeout it returns an error matching ErrNotFound.
func (l *Locator) Locate(vendorID, productID uint16, timeout, poll time.Duration) (string, error) {
	deadline := l.clock.Now().Add(timeout)
	passes := 0

	for {
		passes++
		ports, err := l.enum.Ports()
		if err != nil {
			l.log.Debug().Err(err).Int("pass", passes).Msg("port enumeration failed")
		}
		for _, p := range ports {
			if p.Matches(vendorID, productID) {
				l.log.Info().
					Str("port", p.Name).
					Str("product", p.Product).
					Str("serial", p.SerialNumber).
					Msgf("found %04x:%04x", p.VendorID, p.ProductID)
				return p.Name, nil
			}
		}

		now := l.clock.Now()
		if !now.Before(deadline) {
			return "", &NotFoundError{VendorID: vendorID, ProductID: productID, Timeout: timeout}
		}

		wait := poll
		if remaining := deadline.Sub(now); remaining < wait {
			wait = remaining
		}
		l.clock.Sleep(wait)
	}
}

// List returns every port the enumerator reports.
func (l *Locator) List() ([]PortInfo, error) {
	ports, err := l.enum.Ports()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}
	return ports, nil
}

//go:build linux

// Package goldfish talks to the goldfish address space device through its Linux character device.
package goldfish

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/hostmem/device"
	"golang.org/x/exp/slog"
	"golang.org/x/sys/unix"
)

// DefaultPath is where the Linux driver exposes the address space device
const DefaultPath = "/dev/goldfish_address_space"

// Options contains optional settings when creating a Device
type Options struct {
	// Path is the character device to open. DefaultPath is used when it is empty.
	Path string
	// OpenTimeout is how long Open keeps retrying while the device node is missing or busy, as it
	// is early in boot. 0 means a single attempt.
	OpenTimeout time.Duration
}

// Device opens sessions with the address space device
type Device struct {
	logger      *slog.Logger
	path        string
	openTimeout time.Duration
}

var _ device.Device = &Device{}

func New(logger *slog.Logger, options Options) *Device {
	if logger == nil {
		logger = slog.Default()
	}

	path := options.Path
	if path == "" {
		path = DefaultPath
	}

	return &Device{
		logger:      logger,
		path:        path,
		openTimeout: options.OpenTimeout,
	}
}

func (d *Device) Path() string {
	return d.path
}

// Open opens the character device. Every call returns an independent session.
func (d *Device) Open() (device.Session, error) {
	d.logger.Debug("goldfish.Device::Open", slog.String("Path", d.path))

	fd, err := backoff.RetryWithData(d.openOnce, d.openBackOff())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", d.path)
	}

	return newSession(d.logger, fd, device.SubdeviceTypeDefault, false), nil
}

func (d *Device) openOnce() (int, error) {
	fd, err := unix.Open(d.path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err == nil {
		return fd, nil
	}

	if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EBUSY) || errors.Is(err, unix.EINTR) {
		d.logger.Debug("goldfish.Device::Open retrying", slog.Any("error", err))
		return -1, err
	}
	return -1, backoff.Permanent(err)
}

func (d *Device) openBackOff() backoff.BackOff {
	if d.openTimeout <= 0 {
		return &backoff.StopBackOff{}
	}

	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = 5 * time.Millisecond
	exponential.MaxInterval = 250 * time.Millisecond
	exponential.MaxElapsedTime = d.openTimeout
	return exponential
}

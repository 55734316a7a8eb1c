package addrspace

import (
	"context"

	"github.com/vkngwrapper/hostmem/addrspace/internal/utils"
	"github.com/vkngwrapper/hostmem/device"
	"golang.org/x/exp/slog"
)

// ProviderCreateOptions contains optional settings when creating a Provider
type ProviderCreateOptions struct {
	// Flags indicates specific provider behaviors to activate or deactivate
	Flags ProviderCreateFlags

	// MemoryCallbackOptions is an optional set of callbacks that will be executed when the device
	// hands a block to this provider or takes one back
	MemoryCallbackOptions *MemoryCallbackOptions
}

// NewProvider connects to dev and opens a child session for subdeviceType. Only
// device.SubdeviceTypeDefault is supported; passing anything else panics.
//
// Connection failures do not fail construction: they are logged and the returned Provider reports
// false from IsOpened.
func NewProvider(logger *slog.Logger, dev device.Device, subdeviceType device.SubdeviceType, options ProviderCreateOptions) *Provider {
	if subdeviceType != device.SubdeviceTypeDefault {
		panic("unsupported subdevice type " + subdeviceType.String())
	}
	if logger == nil {
		logger = slog.Default()
	}

	useMutex := options.Flags&ProviderCreateExternallySynchronized == 0
	provider := &Provider{
		useMutex:      useMutex,
		logger:        logger,
		createFlags:   options.Flags,
		subdeviceType: subdeviceType,
		sessionMutex:  utils.OptionalRWMutex{UseMutex: useMutex},
	}
	provider.callbacks = memoryCallbacks{
		Callbacks: options.MemoryCallbackOptions,
		Provider:  provider,
	}
	provider.blocks.Init(useMutex)

	logger.Debug("Provider::Open", slog.String("SubdeviceType", subdeviceType.String()))

	session, err := dev.Open()
	if err != nil {
		logger.LogAttrs(context.Background(), slog.LevelError, "failed to open address space device",
			slog.Any("error", err))
		return provider
	}

	child, err := session.OpenChildDriver(subdeviceType)
	if err != nil {
		logger.LogAttrs(context.Background(), slog.LevelError, "failed to open child driver",
			slog.String("subdeviceType", subdeviceType.String()),
			slog.Any("error", err))

		closeErr := session.Close()
		if closeErr != nil {
			logger.Error("error attempting to close device session after child driver failure", slog.Any("error", closeErr))
		}
		return provider
	}

	provider.session = session
	provider.childSession = child
	return provider
}

package license

import (
	"context"
	"fmt"
	"strings"

	"lessonvault/internal/model"
)

// Registry tracks the devices bound to each account.
type Registry struct {
	ledger Ledger
	clock  Clock
	logger Logger
}

// NewRegistry creates a Registry backed by ledger.
func NewRegistry(ledger Ledger, clock Clock, logger Logger) *Registry {
	return &Registry{ledger: ledger, clock: clock, logger: logger}
}

// RegisterDevice inserts the device or reactivates it with fresh metadata.
// Registering a known device is not an error.
func (r *Registry) RegisterDevice(ctx context.Context, accountID, deviceID, displayName, platform string) (*model.Device, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, fmt.Errorf("%w: missing deviceId", ErrInvalidRequest)
	}
	if accountID == "" {
		return nil, fmt.Errorf("%w: missing accountId", ErrInvalidRequest)
	}

	now := r.clock.Now()
	device, err := r.ledger.UpsertDevice(ctx, &model.Device{
		AccountID:    accountID,
		DeviceID:     deviceID,
		DisplayName:  displayName,
		Platform:     platform,
		RegisteredAt: now,
		LastActiveAt: now,
		Active:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("registering device: %w", err)
	}

	r.logger.Info("device registered", "account_id", accountID, "device_id", deviceID, "platform", platform)
	return device, nil
}

// ListDevices returns the active devices of an account.
func (r *Registry) ListDevices(ctx context.Context, accountID string) ([]*model.Device, error) {
	devices, err := r.ledger.ListActiveDevices(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	return devices, nil
}

// DeactivateDevice soft-deletes a device. Its licenses stay in the ledger.
func (r *Registry) DeactivateDevice(ctx context.Context, accountID, deviceID string) error {
	ok, err := r.ledger.DeactivateDevice(ctx, accountID, deviceID)
	if err != nil {
		return fmt.Errorf("deactivating device: %w", err)
	}
	if !ok {
		return ErrDeviceNotRegistered
	}
	r.logger.Info("device deactivated", "account_id", accountID, "device_id", deviceID)
	return nil
}

// requireActive returns ErrDeviceNotRegistered unless the device is registered
// and active for the account. It also records activity.
func (r *Registry) requireActive(ctx context.Context, accountID, deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("%w: missing deviceId", ErrInvalidRequest)
	}
	device, err := r.ledger.FindDevice(ctx, accountID, deviceID)
	if err != nil {
		return fmt.Errorf("finding device: %w", err)
	}
	if device == nil || !device.Active {
		return ErrDeviceNotRegistered
	}
	if err := r.ledger.TouchDevice(ctx, accountID, deviceID, r.clock.Now()); err != nil {
		r.logger.Warn("touching device failed", "device_id", deviceID, "error", err)
	}
	return nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devicevault/server/internal/models"
	"github.com/devicevault/server/internal/observability"
	"github.com/devicevault/server/internal/repository"
)

// DeviceService is the device-registration collaborator of the sync pipeline
type DeviceService struct {
	repo              repository.DeviceRepo
	requireRegistered bool
	now               func() time.Time
}

// NewDeviceService creates a new DeviceService. With requireRegistered set,
// syncs from unknown devices are refused instead of auto-registering them.
func NewDeviceService(repo repository.DeviceRepo, requireRegistered bool) *DeviceService {
	return &DeviceService{
		repo:              repo,
		requireRegistered: requireRegistered,
		now:               time.Now,
	}
}

// RequireRegistered reports whether sync calls need a registered device and token
func (s *DeviceService) RequireRegistered() bool {
	return s.requireRegistered
}

// Registrant is what the caller of a register call proved about itself
type Registrant struct {
	// DeviceToken is the token presented for the device, if any
	DeviceToken string
	// Admin is set when the operator API key was presented
	Admin bool
}

// Register creates a device or refreshes an existing one. The plain token is
// returned only when one is issued: on creation, when the device has none yet,
// or when rotation is requested.
//
// Refreshing an existing device requires its current token or operator
// access. A device that never received a token (auto-registered by a legacy
// sync) can be claimed without one only while registration is optional.
func (s *DeviceService) Register(ctx context.Context, req models.RegisterDeviceRequest, who Registrant) (*models.Device, string, error) {
	if req.DeviceID != "" {
		id, err := models.NormalizeDeviceID(req.DeviceID)
		if err != nil {
			return nil, "", err
		}
		req.DeviceID = id

		existing, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, "", err
		}
		if existing != nil {
			return s.refresh(ctx, existing, req, who)
		}
	}

	device, err := models.NewDevice(req)
	if err != nil {
		return nil, "", err
	}
	token, err := device.IssueToken()
	if err != nil {
		return nil, "", err
	}

	if err := s.repo.Add(ctx, device); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// Lost a race with a concurrent registration of the same id
			existing, getErr := s.repo.GetByID(ctx, device.ID)
			if getErr != nil || existing == nil {
				return nil, "", fmt.Errorf("failed to register device: %w", err)
			}
			return s.refresh(ctx, existing, req, who)
		}
		return nil, "", fmt.Errorf("failed to register device: %w", err)
	}

	observability.WithField("device_id", device.ID).Info("Device registered")
	return device, token, nil
}

// authorizeRefresh decides whether who may update or re-key an existing device
func (s *DeviceService) authorizeRefresh(device *models.Device, who Registrant) error {
	if who.Admin {
		return nil
	}
	if !device.IsActive {
		return models.ErrDeviceInactive
	}
	if device.HasToken() {
		if !device.VerifyToken(who.DeviceToken) {
			return models.ErrInvalidDeviceToken
		}
		return nil
	}
	if s.requireRegistered {
		return models.ErrInvalidDeviceToken
	}
	return nil
}

// refresh never changes IsActive; only the admin endpoints do
func (s *DeviceService) refresh(ctx context.Context, device *models.Device, req models.RegisterDeviceRequest, who Registrant) (*models.Device, string, error) {
	if err := s.authorizeRefresh(device, who); err != nil {
		observability.WithField("device_id", device.ID).Warnf("Re-registration refused: %v", err)
		return nil, "", err
	}

	device.ApplyMetadata(req)
	device.LastSeenAt = s.now().UTC()

	var token string
	if !device.HasToken() || req.RotateToken {
		var err error
		if token, err = device.IssueToken(); err != nil {
			return nil, "", err
		}
	}

	if err := s.repo.Update(ctx, device); err != nil {
		return nil, "", fmt.Errorf("failed to update device: %w", err)
	}
	return device, token, nil
}

// Get returns a device or ErrDeviceNotFound
func (s *DeviceService) Get(ctx context.Context, id string) (*models.Device, error) {
	device, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, models.ErrDeviceNotFound
	}
	return device, nil
}

// List returns every device, most recently seen first
func (s *DeviceService) List(ctx context.Context) ([]*models.Device, error) {
	devices, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	if devices == nil {
		devices = []*models.Device{}
	}
	return devices, nil
}

// SetActive enables or disables a device. Inactive devices can neither sync
// nor re-register; their stored records are kept.
func (s *DeviceService) SetActive(ctx context.Context, id string, active bool) (*models.Device, error) {
	device, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if device.IsActive == active {
		return device, nil
	}
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return nil, fmt.Errorf("failed to update device: %w", err)
	}
	device.IsActive = active
	observability.WithFields(map[string]interface{}{
		"device_id": id,
		"active":    active,
	}).Info("Device activation changed")
	return device, nil
}

// Touch records activity for a syncing device. Unknown devices are
// auto-registered unless registration is required; inactive devices are
// refused in either mode.
func (s *DeviceService) Touch(ctx context.Context, id string) error {
	id, err := models.NormalizeDeviceID(id)
	if err != nil {
		return err
	}

	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if existing != nil {
		if !existing.IsActive {
			return models.ErrDeviceInactive
		}
		_, err := s.repo.UpdateLastSeen(ctx, id, s.now())
		return err
	}
	if s.requireRegistered {
		return models.ErrDeviceNotFound
	}

	device, err := models.NewDevice(models.RegisterDeviceRequest{DeviceID: id})
	if err != nil {
		return err
	}
	if err := s.repo.Add(ctx, device); err != nil && !errors.Is(err, repository.ErrDuplicate) {
		return err
	}
	observability.WithField("device_id", id).Info("Device auto-registered on first sync")
	return nil
}

// Authenticate checks a device token. It fails for unknown or inactive devices.
func (s *DeviceService) Authenticate(ctx context.Context, id, token string) (*models.Device, error) {
	device, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, models.ErrDeviceNotFound
	}
	if !device.IsActive {
		return nil, models.ErrDeviceInactive
	}
	if !device.VerifyToken(token) {
		return nil, models.ErrInvalidDeviceToken
	}
	return device, nil
}

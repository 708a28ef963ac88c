package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicevault/server/internal/models"
	"github.com/devicevault/server/internal/repository"
)

func newTestDeviceService(t *testing.T, requireRegistered bool) *DeviceService {
	t.Helper()
	p := newTestPipeline(t)
	return NewDeviceService(repository.NewDeviceRepository(p.db, repository.DialectSQLite), requireRegistered)
}

func TestDeviceService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns an id and issues a token", func(t *testing.T) {
		svc := newTestDeviceService(t, false)

		device, token, err := svc.Register(ctx, models.RegisterDeviceRequest{DeviceName: "Pixel", Model: "Pixel 8"}, Registrant{})
		require.NoError(t, err)
		assert.NotEmpty(t, device.ID)
		assert.NotEmpty(t, token)
		assert.True(t, device.IsActive)

		stored, err := svc.Get(ctx, device.ID)
		require.NoError(t, err)
		assert.Equal(t, "Pixel 8", stored.Model)
		assert.True(t, stored.VerifyToken(token))
	})

	t.Run("re-registering keeps the token unless rotated", func(t *testing.T) {
		svc := newTestDeviceService(t, false)

		_, token, err := svc.Register(ctx, models.RegisterDeviceRequest{DeviceID: "D1"}, Registrant{})
		require.NoError(t, err)
		owner := Registrant{DeviceToken: token}

		device, again, err := svc.Register(ctx, models.RegisterDeviceRequest{DeviceID: "D1", AppVersion: "2.0"}, owner)
		require.NoError(t, err)
		assert.Empty(t, again)
		assert.Equal(t, "2.0", device.AppVersion)

		_, rotated, err := svc.Register(ctx, models.RegisterDeviceRequest{DeviceID: "D1", RotateToken: true}, owner)
		require.NoError(t, err)
		require.NotEmpty(t, rotated)
		assert.NotEqual(t, token, rotated)

		_, err = svc.Authenticate(ctx, "D1", token)
		assert.ErrorIs(t, err, models.ErrInvalidDeviceToken)
		_, err = svc.Authenticate(ctx, "D1", rotated)
		assert.NoError(t, err)
	})

	t.Run("rejects malformed ids", func(t *testing.T) {
		svc := newTestDeviceService(t, false)

		_, _, err := svc.Register(ctx, models.RegisterDeviceRequest{DeviceID: "../etc/passwd"}, Registrant{})
		assert.ErrorIs(t, err, models.ErrInvalidDeviceID)
	})

	t.Run("refresh needs the current token or operator access", func(t *testing.T) {
		svc := newTestDeviceService(t, false)

		_, token, err := svc.Register(ctx, models.RegisterDeviceRequest{DeviceID: "D1"}, Registrant{})
		require.NoError(t, err)

		_, _, err = svc.Register(ctx, models.RegisterDeviceRequest{DeviceID: "D1", RotateToken: true}, Registrant{})
		assert.ErrorIs(t, err, models.ErrInvalidDeviceToken)
		_, _, err = svc.Register(ctx, models.RegisterDeviceRequest{DeviceID: "D1", RotateToken: true}, Registrant{DeviceToken: "guess"})
		assert.ErrorIs(t, err, models.ErrInvalidDeviceToken)

		_, err = svc.Authenticate(ctx, "D1", token)
		require.NoError(t, err, "refused rotation must not invalidate the token")

		_, rotated, err := svc.Register(ctx, models.RegisterDeviceRequest{DeviceID: "D1", RotateToken: true}, Registrant{Admin: true})
		require.NoError(t, err)
		assert.NotEmpty(t, rotated)
	})

	t.Run("tokenless device can be claimed only when registration is optional", func(t *testing.T) {
		svc := newTestDeviceService(t, false)
		require.NoError(t, svc.Touch(ctx, "D1"))

		_, token, err := svc.Register(ctx, models.RegisterDeviceRequest{DeviceID: "D1"}, Registrant{})
		require.NoError(t, err)
		assert.NotEmpty(t, token)

		strict := newTestDeviceService(t, true)
		tokenless, err := models.NewDevice(models.RegisterDeviceRequest{DeviceID: "D2"})
		require.NoError(t, err)
		require.NoError(t, strict.repo.Add(ctx, tokenless))
		_, _, err = strict.Register(ctx, models.RegisterDeviceRequest{DeviceID: "D2"}, Registrant{})
		assert.ErrorIs(t, err, models.ErrInvalidDeviceToken)
	})

	t.Run("refresh never reactivates", func(t *testing.T) {
		svc := newTestDeviceService(t, true)

		_, token, err := svc.Register(ctx, models.RegisterDeviceRequest{DeviceID: "D1"}, Registrant{})
		require.NoError(t, err)
		_, err = svc.SetActive(ctx, "D1", false)
		require.NoError(t, err)

		_, _, err = svc.Register(ctx, models.RegisterDeviceRequest{DeviceID: "D1"}, Registrant{DeviceToken: token})
		assert.ErrorIs(t, err, models.ErrDeviceInactive)

		device, _, err := svc.Register(ctx, models.RegisterDeviceRequest{DeviceID: "D1", AppVersion: "3.0"}, Registrant{Admin: true})
		require.NoError(t, err)
		assert.False(t, device.IsActive)

		stored, err := svc.Get(ctx, "D1")
		require.NoError(t, err)
		assert.False(t, stored.IsActive)
		assert.Equal(t, "3.0", stored.AppVersion)
	})
}

func TestDeviceService_SetActive(t *testing.T) {
	ctx := context.Background()
	svc := newTestDeviceService(t, false)

	require.NoError(t, svc.Touch(ctx, "D1"))

	device, err := svc.SetActive(ctx, "D1", false)
	require.NoError(t, err)
	assert.False(t, device.IsActive)
	assert.ErrorIs(t, svc.Touch(ctx, "D1"), models.ErrDeviceInactive)

	devices, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.False(t, devices[0].IsActive)

	_, err = svc.SetActive(ctx, "D1", true)
	require.NoError(t, err)
	assert.NoError(t, svc.Touch(ctx, "D1"))

	_, err = svc.SetActive(ctx, "D9", false)
	assert.ErrorIs(t, err, models.ErrDeviceNotFound)
}

func TestDeviceService_Touch(t *testing.T) {
	ctx := context.Background()

	t.Run("auto-registers unknown devices", func(t *testing.T) {
		svc := newTestDeviceService(t, false)

		require.NoError(t, svc.Touch(ctx, "D1"))
		device, err := svc.Get(ctx, "D1")
		require.NoError(t, err)
		assert.False(t, device.HasToken())

		require.NoError(t, svc.Touch(ctx, "D1"))
	})

	t.Run("refuses unknown devices when registration is required", func(t *testing.T) {
		svc := newTestDeviceService(t, true)
		assert.True(t, svc.RequireRegistered())

		assert.ErrorIs(t, svc.Touch(ctx, "D1"), models.ErrDeviceNotFound)

		_, err := svc.Get(ctx, "D1")
		assert.ErrorIs(t, err, models.ErrDeviceNotFound)
	})

	t.Run("rejects empty ids", func(t *testing.T) {
		svc := newTestDeviceService(t, false)
		assert.ErrorIs(t, svc.Touch(ctx, "  "), models.ErrEmptyDeviceID)
	})
}

func TestDeviceService_Authenticate(t *testing.T) {
	ctx := context.Background()
	svc := newTestDeviceService(t, true)

	_, token, err := svc.Register(ctx, models.RegisterDeviceRequest{DeviceID: "D1"}, Registrant{})
	require.NoError(t, err)

	t.Run("valid token", func(t *testing.T) {
		device, err := svc.Authenticate(ctx, "D1", token)
		require.NoError(t, err)
		assert.Equal(t, "D1", device.ID)
	})

	t.Run("unknown device", func(t *testing.T) {
		_, err := svc.Authenticate(ctx, "D2", token)
		assert.ErrorIs(t, err, models.ErrDeviceNotFound)
	})

	t.Run("missing token", func(t *testing.T) {
		_, err := svc.Authenticate(ctx, "D1", "")
		assert.ErrorIs(t, err, models.ErrInvalidDeviceToken)
	})
}

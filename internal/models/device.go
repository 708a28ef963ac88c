package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:\-]{1,128}$`)

// Device represents an edge agent installation on one physical device
type Device struct {
	ID           string    `json:"deviceId"`
	DeviceName   string    `json:"deviceName"`
	Model        string    `json:"model"`
	Manufacturer string    `json:"manufacturer"`
	OSVersion    string    `json:"osVersion"`
	AppVersion   string    `json:"appVersion"`
	TokenHash    string    `json:"-"` // Never expose the token hash
	RegisteredAt time.Time `json:"registeredAt"`
	LastSeenAt   time.Time `json:"lastSeen"`
	IsActive     bool      `json:"isActive"`
}

// DeviceResponse is the safe response format
type DeviceResponse struct {
	ID           string    `json:"deviceId"`
	DeviceName   string    `json:"deviceName"`
	Model        string    `json:"model"`
	Manufacturer string    `json:"manufacturer"`
	OSVersion    string    `json:"osVersion"`
	AppVersion   string    `json:"appVersion"`
	RegisteredAt time.Time `json:"registeredAt"`
	LastSeenAt   time.Time `json:"lastSeen"`
	IsActive     bool      `json:"isActive"`
}

// RegisterDeviceRequest is the request body for registering a device
type RegisterDeviceRequest struct {
	DeviceID     string `json:"deviceId" validate:"omitempty,max=128"`
	DeviceName   string `json:"deviceName" validate:"max=200"`
	Model        string `json:"model" validate:"max=200"`
	Manufacturer string `json:"manufacturer" validate:"max=200"`
	OSVersion    string `json:"osVersion" validate:"max=100"`
	AppVersion   string `json:"appVersion" validate:"max=100"`
	RotateToken  bool   `json:"rotateToken"`
}

// RegisterDeviceResponse carries the device token only when one was issued
type RegisterDeviceResponse struct {
	Device DeviceResponse `json:"device"`
	Token  string         `json:"token,omitempty"`
}

// NormalizeDeviceID trims and validates a client-supplied device id
func NormalizeDeviceID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrEmptyDeviceID
	}
	if !deviceIDPattern.MatchString(id) {
		return "", ErrInvalidDeviceID
	}
	return id, nil
}

// NewDevice creates a device registration. An empty id gets a server-assigned UUID.
func NewDevice(req RegisterDeviceRequest) (*Device, error) {
	id := strings.TrimSpace(req.DeviceID)
	if id == "" {
		id = uuid.New().String()
	}
	id, err := NormalizeDeviceID(id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	d := &Device{
		ID:           id,
		RegisteredAt: now,
		LastSeenAt:   now,
		IsActive:     true,
	}
	d.ApplyMetadata(req)
	return d, nil
}

// ApplyMetadata copies non-empty hardware/software fields from a registration request
func (d *Device) ApplyMetadata(req RegisterDeviceRequest) {
	if v := strings.TrimSpace(req.DeviceName); v != "" {
		d.DeviceName = v
	}
	if v := strings.TrimSpace(req.Model); v != "" {
		d.Model = v
	}
	if v := strings.TrimSpace(req.Manufacturer); v != "" {
		d.Manufacturer = v
	}
	if v := strings.TrimSpace(req.OSVersion); v != "" {
		d.OSVersion = v
	}
	if v := strings.TrimSpace(req.AppVersion); v != "" {
		d.AppVersion = v
	}
}

// IssueToken generates a fresh device token and stores only its bcrypt hash.
// The plain token is returned once and never persisted.
func (d *Device) IssueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate device token: %w", err)
	}
	token := hex.EncodeToString(buf)

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash device token: %w", err)
	}
	d.TokenHash = string(hash)
	return token, nil
}

// VerifyToken checks a presented token against the stored hash
func (d *Device) VerifyToken(token string) bool {
	if d.TokenHash == "" || token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(d.TokenHash), []byte(token)) == nil
}

// HasToken returns true once a token has been issued for the device
func (d *Device) HasToken() bool {
	return d.TokenHash != ""
}

// ToResponse converts Device to DeviceResponse (safe for API)
func (d *Device) ToResponse() DeviceResponse {
	return DeviceResponse{
		ID:           d.ID,
		DeviceName:   d.DeviceName,
		Model:        d.Model,
		Manufacturer: d.Manufacturer,
		OSVersion:    d.OSVersion,
		AppVersion:   d.AppVersion,
		RegisteredAt: d.RegisteredAt,
		LastSeenAt:   d.LastSeenAt,
		IsActive:     d.IsActive,
	}
}

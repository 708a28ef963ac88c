package services

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/devicevault/server/internal/models"
)

// FingerprintVersion identifies the algorithm that produced a stored data hash
type FingerprintVersion int

const (
	// FingerprintV1 hashed only the natural key; records written by old agents carry it
	FingerprintV1 FingerprintVersion = 1
	// FingerprintV2 hashes the full canonical payload
	FingerprintV2 FingerprintVersion = 2

	CurrentFingerprintVersion = FingerprintV2
)

// volatileFields never take part in a fingerprint
var volatileFields = []string{"_id", "deviceId", "syncTime", "dataHash", "fingerprint"}

// FingerprintService computes content fingerprints for canonical records
type FingerprintService struct{}

// NewFingerprintService creates a new FingerprintService
func NewFingerprintService() *FingerprintService {
	return &FingerprintService{}
}

// Fingerprint hashes deviceId, the kind tag and the canonical JSON of fields
// with volatile keys removed. Key order in fields does not matter.
func (s *FingerprintService) Fingerprint(deviceID string, dt models.DataType, fields map[string]any) (string, error) {
	stripped := make(map[string]any, len(fields))
	for k, v := range fields {
		stripped[k] = v
	}
	for _, k := range volatileFields {
		delete(stripped, k)
	}

	// encoding/json writes map keys in sorted order, which makes this canonical
	canonical, err := json.Marshal(stripped)
	if err != nil {
		return "", err
	}
	return s.digest(deviceID, dt.Tag(), string(canonical)), nil
}

// FingerprintRecord computes the current-version fingerprint of a record
func (s *FingerprintService) FingerprintRecord(rec *models.Record) (string, error) {
	return s.Compute(CurrentFingerprintVersion, rec)
}

// Compute runs a specific algorithm version over rec
func (s *FingerprintService) Compute(version FingerprintVersion, rec *models.Record) (string, error) {
	if version == FingerprintV1 {
		return s.digest(rec.DeviceID, rec.DataType.Tag(), rec.NaturalKeyString()), nil
	}

	fields, err := models.PayloadFields(rec.Payload)
	if err != nil {
		return "", err
	}
	return s.Fingerprint(rec.DeviceID, rec.DataType, fields)
}

func (s *FingerprintService) digest(deviceID, tag, body string) string {
	h := sha256.New()
	h.Write([]byte(deviceID))
	h.Write([]byte{'|'})
	h.Write([]byte(tag))
	h.Write([]byte{'|'})
	h.Write([]byte(body))
	return hex.EncodeToString(h.Sum(nil))
}

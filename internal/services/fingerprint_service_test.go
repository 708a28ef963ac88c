package services

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicevault/server/internal/models"
)

func decodeFields(t *testing.T, raw string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var m map[string]any
	require.NoError(t, dec.Decode(&m))
	return m
}

func TestFingerprintService_Fingerprint(t *testing.T) {
	svc := NewFingerprintService()

	base, err := svc.Fingerprint("D1", models.DataTypeCallLogs,
		decodeFields(t, `{"phoneNumber":"+1555","duration":42,"callType":"INCOMING"}`))
	require.NoError(t, err)
	assert.Len(t, base, 64)

	t.Run("field order does not matter", func(t *testing.T) {
		got, err := svc.Fingerprint("D1", models.DataTypeCallLogs,
			decodeFields(t, `{"callType":"INCOMING","duration":42,"phoneNumber":"+1555"}`))
		require.NoError(t, err)
		assert.Equal(t, base, got)
	})

	t.Run("volatile fields are ignored", func(t *testing.T) {
		got, err := svc.Fingerprint("D1", models.DataTypeCallLogs,
			decodeFields(t, `{"phoneNumber":"+1555","duration":42,"callType":"INCOMING","syncTime":"2025-01-01T00:00:00Z","_id":"abc","dataHash":"x"}`))
		require.NoError(t, err)
		assert.Equal(t, base, got)
	})

	t.Run("one character change in an included field changes it", func(t *testing.T) {
		got, err := svc.Fingerprint("D1", models.DataTypeCallLogs,
			decodeFields(t, `{"phoneNumber":"+1556","duration":42,"callType":"INCOMING"}`))
		require.NoError(t, err)
		assert.NotEqual(t, base, got)
	})

	t.Run("device and kind are part of the hash", func(t *testing.T) {
		fields := decodeFields(t, `{"phoneNumber":"+1555","duration":42,"callType":"INCOMING"}`)

		other, err := svc.Fingerprint("D2", models.DataTypeCallLogs, fields)
		require.NoError(t, err)
		assert.NotEqual(t, base, other)

		other, err = svc.Fingerprint("D1", models.DataTypeMessages, fields)
		require.NoError(t, err)
		assert.NotEqual(t, base, other)
	})

	t.Run("input map is not modified", func(t *testing.T) {
		fields := decodeFields(t, `{"a":1,"syncTime":2}`)
		_, err := svc.Fingerprint("D1", models.DataTypeCallLogs, fields)
		require.NoError(t, err)
		assert.Contains(t, fields, "syncTime")
	})
}

func TestFingerprintService_Versions(t *testing.T) {
	svc := NewFingerprintService()
	at := time.UnixMilli(1690000000000).UTC()

	rec := &models.Record{
		DeviceID: "D1",
		DataType: models.DataTypeCallLogs,
		Payload:  models.CallLog{PhoneNumber: "+1555", CallType: models.CallTypeIncoming, Duration: 42, Timestamp: at},
	}
	renamed := &models.Record{
		DeviceID: "D1",
		DataType: models.DataTypeCallLogs,
		Payload:  models.CallLog{PhoneNumber: "+1555", ContactName: "Ada", CallType: models.CallTypeIncoming, Duration: 42, Timestamp: at},
	}

	t.Run("v1 only sees the natural key", func(t *testing.T) {
		a, err := svc.Compute(FingerprintV1, rec)
		require.NoError(t, err)
		b, err := svc.Compute(FingerprintV1, renamed)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("current version sees the full payload", func(t *testing.T) {
		a, err := svc.FingerprintRecord(rec)
		require.NoError(t, err)
		b, err := svc.FingerprintRecord(renamed)
		require.NoError(t, err)
		assert.NotEqual(t, a, b)

		legacy, err := svc.Compute(FingerprintV1, rec)
		require.NoError(t, err)
		assert.NotEqual(t, legacy, a)
	})

	t.Run("record id and sync time do not matter", func(t *testing.T) {
		a, err := svc.FingerprintRecord(rec)
		require.NoError(t, err)

		clone := *rec
		clone.ID = "other"
		clone.SyncTime = time.Now()
		b, err := svc.FingerprintRecord(&clone)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})
}

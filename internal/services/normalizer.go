package services

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/devicevault/server/internal/models"
)

// Epoch values above this are already milliseconds
const millisThreshold = 1e12

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
}

// ParseTimestamp interprets an ISO-8601 string (anything containing "T") or a
// numeric epoch in seconds or milliseconds. It reports false for anything
// unparseable or not strictly after the Unix epoch.
func ParseTimestamp(v any) (time.Time, bool) {
	var t time.Time

	switch val := v.(type) {
	case time.Time:
		t = val
	case models.Flex:
		return ParseTimestamp(val.Value())
	case string:
		s := strings.TrimSpace(val)
		if strings.Contains(s, "T") {
			parsed, ok := parseISO(s)
			if !ok {
				return time.Time{}, false
			}
			t = parsed
		} else {
			n, ok := models.NewFlex(s).Float()
			if !ok {
				return time.Time{}, false
			}
			t = fromEpoch(n)
		}
	default:
		n, ok := models.NewFlex(v).Float()
		if !ok {
			return time.Time{}, false
		}
		t = fromEpoch(n)
	}

	if t.IsZero() || t.UnixMilli() <= 0 {
		return time.Time{}, false
	}
	return t.UTC().Truncate(time.Millisecond), true
}

// CoerceTimestamp is ParseTimestamp with the fallback to now. Malformed input
// is never rejected.
func CoerceTimestamp(v any, now time.Time) time.Time {
	if t, ok := ParseTimestamp(v); ok {
		return t
	}
	return now.UTC().Truncate(time.Millisecond)
}

func parseISO(s string) (time.Time, bool) {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func fromEpoch(n float64) time.Time {
	if math.IsNaN(n) || math.IsInf(n, 0) || n <= 0 {
		return time.Time{}
	}
	ms := n
	if n <= millisThreshold {
		ms = n * 1000
	}
	if ms > math.MaxInt64/2 {
		return time.Time{}
	}
	return time.UnixMilli(int64(ms))
}

// Normalizer maps device-native items into canonical records
type Normalizer struct {
	now func() time.Time
}

// NewNormalizer creates a Normalizer using the wall clock
func NewNormalizer() *Normalizer {
	return &Normalizer{now: time.Now}
}

// SetClock overrides the clock used for defaulted timestamps
func (n *Normalizer) SetClock(now func() time.Time) {
	n.now = now
}

// Normalize decodes one raw item and maps it to a canonical record.
// Missing or garbled fields are defaulted; only an item that is not a JSON
// object produces an error.
func (n *Normalizer) Normalize(deviceID string, dt models.DataType, raw json.RawMessage) (*models.Record, error) {
	input, err := models.DecodeRawInput(dt, raw)
	if err != nil {
		return nil, err
	}
	return n.NormalizeInput(deviceID, input)
}

// NormalizeInput maps an already decoded raw item
func (n *Normalizer) NormalizeInput(deviceID string, input models.RawInput) (*models.Record, error) {
	now := n.now().UTC().Truncate(time.Millisecond)

	var payload models.Payload
	switch in := input.(type) {
	case models.RawContact:
		payload = mapContact(in)
	case models.RawCallLog:
		payload = mapCallLog(in, now)
	case models.RawMessage:
		payload = mapMessage(in, now)
	case models.RawNotification:
		payload = mapNotification(in, now)
	case models.RawEmailAccount:
		payload = mapEmailAccount(in)
	default:
		return nil, fmt.Errorf("normalize %T: %w", input, models.ErrUnsupportedDataType)
	}

	occurred := payload.OccurredAt()
	if occurred.IsZero() {
		occurred = now
	}

	return &models.Record{
		ID:        uuid.New().String(),
		DeviceID:  deviceID,
		DataType:  payload.DataType(),
		Timestamp: occurred,
		Payload:   payload,
	}, nil
}

// firstText returns the first candidate holding non-empty text
func firstText(candidates ...models.Flex) (string, bool) {
	for _, c := range candidates {
		if s, ok := c.Text(); ok {
			return s, true
		}
	}
	return "", false
}

func textOr(def string, candidates ...models.Flex) string {
	if s, ok := firstText(candidates...); ok {
		return s
	}
	return def
}

// firstFromList extracts the first usable entry of a list that may hold plain
// strings or objects like {"number": "..."} / {"value": "..."}
func firstFromList(raw json.RawMessage, keys ...string) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return "", false
	}
	for _, item := range items {
		var f models.Flex
		if err := json.Unmarshal(item, &f); err == nil {
			if s, ok := f.Text(); ok {
				return s, true
			}
		}
		var obj map[string]models.Flex
		if err := json.Unmarshal(item, &obj); err != nil {
			continue
		}
		for _, k := range keys {
			if s, ok := obj[k].Text(); ok {
				return s, true
			}
		}
	}
	return "", false
}

func mapContact(in models.RawContact) models.Contact {
	phone, ok := firstText(in.PhoneNumber, in.Phone)
	if !ok {
		phone, ok = firstFromList(in.PhoneNumbers, "number", "value", "phoneNumber")
	}
	if !ok {
		phone = models.DefaultContactPhone
	}

	email, ok := firstText(in.Email)
	if !ok {
		email, _ = firstFromList(in.Emails, "address", "value", "email")
	}

	return models.Contact{
		ContactID:    textOr("", in.ContactID, in.ID),
		Name:         textOr("Unknown", in.Name, in.DisplayName),
		PhoneNumber:  phone,
		Email:        email,
		Organization: textOr("", in.Organization, in.Company),
	}
}

// Android CallLog.Calls.TYPE codes
var callTypeCodes = map[int64]models.CallType{
	1: models.CallTypeIncoming,
	2: models.CallTypeOutgoing,
	3: models.CallTypeMissed,
	5: models.CallTypeRejected,
	6: models.CallTypeBlocked,
}

func parseCallType(candidates ...models.Flex) models.CallType {
	for _, c := range candidates {
		if !c.IsSet() {
			continue
		}
		if code, ok := c.Int(); ok {
			if ct, found := callTypeCodes[code]; found {
				return ct
			}
			continue
		}
		if s, ok := c.Text(); ok {
			switch ct := models.CallType(strings.ToUpper(s)); ct {
			case models.CallTypeIncoming, models.CallTypeOutgoing, models.CallTypeMissed,
				models.CallTypeRejected, models.CallTypeBlocked:
				return ct
			}
		}
	}
	return models.CallTypeIncoming
}

func mapCallLog(in models.RawCallLog, now time.Time) models.CallLog {
	duration, ok := in.Duration.Int()
	if !ok || duration < 0 {
		duration = 0
	}

	return models.CallLog{
		PhoneNumber: textOr(models.UnknownPhone, in.PhoneNumber, in.Number),
		ContactName: textOr("", in.ContactName, in.Name, in.CachedName),
		CallType:    parseCallType(in.Type, in.CallType),
		Duration:    duration,
		Timestamp:   coerceFirst(now, in.Date, in.Timestamp),
	}
}

// Android Telephony.Sms.MESSAGE_TYPE codes
var messageTypeCodes = map[int64]models.MessageType{
	1: models.MessageTypeInbox,
	2: models.MessageTypeSent,
	3: models.MessageTypeDraft,
	4: models.MessageTypeOutbox,
	5: models.MessageTypeFailed,
	6: models.MessageTypeQueued,
}

func parseMessageType(candidates ...models.Flex) models.MessageType {
	for _, c := range candidates {
		if !c.IsSet() {
			continue
		}
		if code, ok := c.Int(); ok {
			if mt, found := messageTypeCodes[code]; found {
				return mt
			}
			continue
		}
		if s, ok := c.Text(); ok {
			upper := strings.ToUpper(s)
			if upper == "RECEIVED" {
				return models.MessageTypeInbox
			}
			switch mt := models.MessageType(upper); mt {
			case models.MessageTypeInbox, models.MessageTypeSent, models.MessageTypeDraft,
				models.MessageTypeOutbox, models.MessageTypeFailed, models.MessageTypeQueued:
				return mt
			}
		}
	}
	return models.MessageTypeInbox
}

func mapMessage(in models.RawMessage, now time.Time) models.Message {
	read := false
	for _, c := range []models.Flex{in.Read, in.IsRead} {
		if b, ok := c.Bool(); ok {
			read = b
			break
		}
	}

	return models.Message{
		Address:     textOr(models.UnknownPhone, in.Address, in.PhoneNumber, in.Sender),
		ContactName: textOr("", in.ContactName),
		Body:        textOr("", in.Body, in.Text),
		MessageType: parseMessageType(in.Type, in.MessageType),
		Read:        read,
		ThreadID:    textOr("", in.ThreadID),
		Timestamp:   coerceFirst(now, in.Date, in.Timestamp),
	}
}

func mapNotification(in models.RawNotification, now time.Time) models.Notification {
	pkg := textOr("unknown", in.PackageName, in.Package)
	return models.Notification{
		PackageName: pkg,
		AppName:     textOr(pkg, in.AppName),
		Title:       textOr("", in.Title),
		Text:        textOr("", in.Text, in.Content),
		Timestamp:   coerceFirst(now, in.PostTime, in.Timestamp),
	}
}

func mapEmailAccount(in models.RawEmailAccount) models.EmailAccount {
	email := strings.ToLower(textOr("", in.Email, in.Address, in.Name))
	return models.EmailAccount{
		Email:       email,
		AccountType: textOr("unknown", in.AccountType, in.Type, in.Provider),
		DisplayName: textOr(email, in.DisplayName),
	}
}

// coerceFirst uses the first candidate that is present. A present but
// unparseable value still falls back to now rather than to a later candidate.
func coerceFirst(now time.Time, candidates ...models.Flex) time.Time {
	for _, c := range candidates {
		if c.IsSet() {
			return CoerceTimestamp(c.Value(), now)
		}
	}
	return now
}

// OccurrenceTime reports when a raw item happened, using the same candidate
// fields as NormalizeInput but without the fallback to now. Snapshot kinds
// and items whose chosen field is missing or garbled report false.
func OccurrenceTime(input models.RawInput) (time.Time, bool) {
	switch in := input.(type) {
	case models.RawCallLog:
		return firstTimestamp(in.Date, in.Timestamp)
	case models.RawMessage:
		return firstTimestamp(in.Date, in.Timestamp)
	case models.RawNotification:
		return firstTimestamp(in.PostTime, in.Timestamp)
	default:
		return time.Time{}, false
	}
}

func firstTimestamp(candidates ...models.Flex) (time.Time, bool) {
	for _, c := range candidates {
		if c.IsSet() {
			return ParseTimestamp(c.Value())
		}
	}
	return time.Time{}, false
}

package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Flex holds one loosely typed scalar from device input. Devices send the
// same field as a string on one platform and as a number on another.
type Flex struct {
	value any
}

// NewFlex wraps an already decoded value
func NewFlex(v any) Flex {
	return Flex{value: v}
}

func (f *Flex) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	f.value = v
	return nil
}

// IsSet reports whether the field was present and not null
func (f Flex) IsSet() bool {
	return f.value != nil
}

// Value returns the decoded value (string, json.Number, bool, map or slice)
func (f Flex) Value() any {
	return f.value
}

// Text returns the value as trimmed text; numbers and booleans are formatted
func (f Flex) Text() (string, bool) {
	switch v := f.value.(type) {
	case string:
		s := strings.TrimSpace(v)
		return s, s != ""
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case int:
		return strconv.Itoa(v), true
	case bool:
		return strconv.FormatBool(v), true
	}
	return "", false
}

// Int returns the value as an integer, accepting numeric strings and truncating fractions
func (f Flex) Int() (int64, bool) {
	switch v := f.value.(type) {
	case json.Number:
		return parseInteger(v.String())
	case string:
		return parseInteger(strings.TrimSpace(v))
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	}
	return 0, false
}

// Float returns the value as a float, accepting numeric strings
func (f Flex) Float() (float64, bool) {
	switch v := f.value.(type) {
	case json.Number:
		n, err := v.Float64()
		return n, err == nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return n, err == nil
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Bool returns the value as a boolean, accepting 0/1 and "true"/"false"
func (f Flex) Bool() (bool, bool) {
	switch v := f.value.(type) {
	case bool:
		return v, true
	case json.Number, float64, int64, int:
		n, ok := f.Int()
		return n != 0, ok
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return b, err == nil
	}
	return false, false
}

func parseInteger(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f), true
	}
	return 0, false
}

// RawInput is the tagged union of device-native items, one variant per data kind
type RawInput interface {
	Kind() DataType
}

// RawContact accepts the field spellings seen from Android and iOS exporters
type RawContact struct {
	ID           Flex            `json:"id"`
	ContactID    Flex            `json:"contactId"`
	Name         Flex            `json:"name"`
	DisplayName  Flex            `json:"displayName"`
	PhoneNumber  Flex            `json:"phoneNumber"`
	Phone        Flex            `json:"phone"`
	PhoneNumbers json.RawMessage `json:"phoneNumbers"`
	Email        Flex            `json:"email"`
	Emails       json.RawMessage `json:"emails"`
	Organization Flex            `json:"organization"`
	Company      Flex            `json:"company"`
}

func (RawContact) Kind() DataType { return DataTypeContacts }

// RawCallLog is a call history row as exported by the device
type RawCallLog struct {
	PhoneNumber Flex `json:"phoneNumber"`
	Number      Flex `json:"number"`
	Name        Flex `json:"name"`
	CachedName  Flex `json:"cachedName"`
	ContactName Flex `json:"contactName"`
	Type        Flex `json:"type"`
	CallType    Flex `json:"callType"`
	Duration    Flex `json:"duration"`
	Date        Flex `json:"date"`
	Timestamp   Flex `json:"timestamp"`
}

func (RawCallLog) Kind() DataType { return DataTypeCallLogs }

// RawMessage is an SMS/MMS row as exported by the device
type RawMessage struct {
	Address     Flex `json:"address"`
	PhoneNumber Flex `json:"phoneNumber"`
	Sender      Flex `json:"sender"`
	ContactName Flex `json:"contactName"`
	Body        Flex `json:"body"`
	Text        Flex `json:"text"`
	Type        Flex `json:"type"`
	MessageType Flex `json:"messageType"`
	Read        Flex `json:"read"`
	IsRead      Flex `json:"isRead"`
	ThreadID    Flex `json:"threadId"`
	Date        Flex `json:"date"`
	Timestamp   Flex `json:"timestamp"`
}

func (RawMessage) Kind() DataType { return DataTypeMessages }

// RawNotification is a captured notification
type RawNotification struct {
	PackageName Flex `json:"packageName"`
	Package     Flex `json:"package"`
	AppName     Flex `json:"appName"`
	Title       Flex `json:"title"`
	Text        Flex `json:"text"`
	Content     Flex `json:"content"`
	PostTime    Flex `json:"postTime"`
	Timestamp   Flex `json:"timestamp"`
}

func (RawNotification) Kind() DataType { return DataTypeNotifications }

// RawEmailAccount is an account entry
type RawEmailAccount struct {
	Email       Flex `json:"email"`
	Name        Flex `json:"name"`
	Address     Flex `json:"address"`
	Type        Flex `json:"type"`
	AccountType Flex `json:"accountType"`
	Provider    Flex `json:"provider"`
	DisplayName Flex `json:"displayName"`
}

func (RawEmailAccount) Kind() DataType { return DataTypeEmailAccounts }

// DecodeRawInput decodes one raw batch item into its kind-specific variant.
// It fails only when the item is not a JSON object.
func DecodeRawInput(dt DataType, data json.RawMessage) (RawInput, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrInvalidRawItem
	}

	var (
		input RawInput
		err   error
	)
	switch dt {
	case DataTypeContacts:
		var v RawContact
		err = json.Unmarshal(trimmed, &v)
		input = v
	case DataTypeCallLogs:
		var v RawCallLog
		err = json.Unmarshal(trimmed, &v)
		input = v
	case DataTypeMessages:
		var v RawMessage
		err = json.Unmarshal(trimmed, &v)
		input = v
	case DataTypeNotifications:
		var v RawNotification
		err = json.Unmarshal(trimmed, &v)
		input = v
	case DataTypeEmailAccounts:
		var v RawEmailAccount
		err = json.Unmarshal(trimmed, &v)
		input = v
	default:
		return nil, ErrUnsupportedDataType
	}
	if err != nil {
		return nil, err
	}
	return input, nil
}

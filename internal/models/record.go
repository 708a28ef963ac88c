package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// CallType is the direction/outcome of a phone call
type CallType string

const (
	CallTypeIncoming CallType = "INCOMING"
	CallTypeOutgoing CallType = "OUTGOING"
	CallTypeMissed   CallType = "MISSED"
	CallTypeRejected CallType = "REJECTED"
	CallTypeBlocked  CallType = "BLOCKED"
)

// MessageType is the mailbox a text message lives in
type MessageType string

const (
	MessageTypeInbox  MessageType = "INBOX"
	MessageTypeSent   MessageType = "SENT"
	MessageTypeDraft  MessageType = "DRAFT"
	MessageTypeOutbox MessageType = "OUTBOX"
	MessageTypeFailed MessageType = "FAILED"
	MessageTypeQueued MessageType = "QUEUED"
)

// DefaultContactPhone is stored when a contact arrives without any number
const DefaultContactPhone = "+0000000000"

// UnknownPhone is stored when a call or message arrives without a counterpart
const UnknownPhone = "Unknown"

// Payload is the kind-specific part of a canonical record
type Payload interface {
	DataType() DataType
	// NaturalKey returns the field values presumed to identify the same real-world fact
	NaturalKey() []string
	// OccurredAt returns the occurrence time, or the zero time for kinds without one
	OccurredAt() time.Time
}

// Contact is an address-book entry
type Contact struct {
	ContactID    string `json:"contactId"`
	Name         string `json:"name"`
	PhoneNumber  string `json:"phoneNumber"`
	Email        string `json:"email"`
	Organization string `json:"organization"`
}

func (Contact) DataType() DataType { return DataTypeContacts }
func (c Contact) NaturalKey() []string { return []string{c.Name, c.PhoneNumber} }
func (Contact) OccurredAt() time.Time { return time.Time{} }

// CallLog is one entry of the device call history
type CallLog struct {
	PhoneNumber string    `json:"phoneNumber"`
	ContactName string    `json:"contactName"`
	CallType    CallType  `json:"callType"`
	Duration    int64     `json:"duration"`
	Timestamp   time.Time `json:"timestamp"`
}

func (CallLog) DataType() DataType { return DataTypeCallLogs }
func (c CallLog) NaturalKey() []string {
	return []string{c.PhoneNumber, formatMillis(c.Timestamp), strconv.FormatInt(c.Duration, 10)}
}
func (c CallLog) OccurredAt() time.Time { return c.Timestamp }

// Message is a text message
type Message struct {
	Address     string      `json:"address"`
	ContactName string      `json:"contactName"`
	Body        string      `json:"body"`
	MessageType MessageType `json:"messageType"`
	Read        bool        `json:"read"`
	ThreadID    string      `json:"threadId"`
	Timestamp   time.Time   `json:"timestamp"`
}

func (Message) DataType() DataType { return DataTypeMessages }
func (m Message) NaturalKey() []string {
	return []string{m.Address, formatMillis(m.Timestamp), string(m.MessageType)}
}
func (m Message) OccurredAt() time.Time { return m.Timestamp }

// Notification is a posted status-bar notification
type Notification struct {
	PackageName string    `json:"packageName"`
	AppName     string    `json:"appName"`
	Title       string    `json:"title"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
}

func (Notification) DataType() DataType { return DataTypeNotifications }
func (n Notification) NaturalKey() []string {
	return []string{n.PackageName, formatMillis(n.Timestamp), n.Title}
}
func (n Notification) OccurredAt() time.Time { return n.Timestamp }

// EmailAccount is an account configured on the device
type EmailAccount struct {
	Email       string `json:"email"`
	AccountType string `json:"accountType"`
	DisplayName string `json:"displayName"`
}

func (EmailAccount) DataType() DataType { return DataTypeEmailAccounts }
func (e EmailAccount) NaturalKey() []string { return []string{e.Email, e.AccountType} }
func (EmailAccount) OccurredAt() time.Time { return time.Time{} }

// Record is a canonical, stored record of any kind.
// Everything except Payload is system metadata.
type Record struct {
	ID        string
	DeviceID  string
	DataType  DataType
	Timestamp time.Time
	SyncTime  time.Time
	DataHash  string
	Payload   Payload
}

// NaturalKeyString joins the payload's natural key into a single indexable value
func (r *Record) NaturalKeyString() string {
	if r.Payload == nil {
		return ""
	}
	return strings.Join(r.Payload.NaturalKey(), "\x1f")
}

// MarshalJSON flattens the payload fields next to the system fields
func (r *Record) MarshalJSON() ([]byte, error) {
	fields, err := PayloadFields(r.Payload)
	if err != nil {
		return nil, err
	}
	fields["_id"] = r.ID
	fields["deviceId"] = r.DeviceID
	fields["dataType"] = r.DataType
	fields["timestamp"] = r.Timestamp.UTC()
	fields["syncTime"] = r.SyncTime.UTC()
	fields["dataHash"] = r.DataHash
	return json.Marshal(fields)
}

// PayloadFields returns the payload as a generic field map, numbers kept as json.Number
func PayloadFields(p Payload) (map[string]any, error) {
	if p == nil {
		return map[string]any{}, nil
	}
	encoded, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return decodeFieldMap(encoded)
}

// EncodePayload serializes a payload for storage
func EncodePayload(p Payload) (string, error) {
	encoded, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// DecodePayload restores a stored payload of the given kind
func DecodePayload(dt DataType, data string) (Payload, error) {
	raw := []byte(data)
	switch dt {
	case DataTypeContacts:
		var p Contact
		err := json.Unmarshal(raw, &p)
		return p, err
	case DataTypeCallLogs:
		var p CallLog
		err := json.Unmarshal(raw, &p)
		return p, err
	case DataTypeMessages:
		var p Message
		err := json.Unmarshal(raw, &p)
		return p, err
	case DataTypeNotifications:
		var p Notification
		err := json.Unmarshal(raw, &p)
		return p, err
	case DataTypeEmailAccounts:
		var p EmailAccount
		err := json.Unmarshal(raw, &p)
		return p, err
	}
	return nil, ErrUnknownPayload
}

func decodeFieldMap(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	fields := make(map[string]any)
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func formatMillis(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

package models

import (
	"strings"
)

// DataType identifies one kind of harvested personal data
type DataType string

const (
	DataTypeContacts      DataType = "CONTACTS"
	DataTypeCallLogs      DataType = "CALL_LOGS"
	DataTypeMessages      DataType = "MESSAGES"
	DataTypeNotifications DataType = "NOTIFICATIONS"
	DataTypeEmailAccounts DataType = "EMAIL_ACCOUNTS"
)

// AllDataTypes returns every supported data type in harvest order
func AllDataTypes() []DataType {
	return []DataType{
		DataTypeContacts,
		DataTypeCallLogs,
		DataTypeMessages,
		DataTypeNotifications,
		DataTypeEmailAccounts,
	}
}

// ParseDataType accepts the enum form (CALL_LOGS) as well as the
// lower-case URL slug form (call-logs, call_logs).
func ParseDataType(s string) (DataType, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "-", "_")

	dt := DataType(normalized)
	if !dt.IsValid() {
		return "", ErrUnsupportedDataType
	}
	return dt, nil
}

// IsValid reports whether d is one of the supported data types
func (d DataType) IsValid() bool {
	switch d {
	case DataTypeContacts, DataTypeCallLogs, DataTypeMessages, DataTypeNotifications, DataTypeEmailAccounts:
		return true
	}
	return false
}

// Slug returns the URL form, e.g. "call-logs"
func (d DataType) Slug() string {
	return strings.ReplaceAll(strings.ToLower(string(d)), "_", "-")
}

// Tag returns the identifier-safe form used in fingerprints and table names, e.g. "call_logs"
func (d DataType) Tag() string {
	return strings.ToLower(string(d))
}

// IsSnapshot reports whether the kind has no reliable modification clock.
// Snapshot kinds are re-sent in full on every harvest.
func (d DataType) IsSnapshot() bool {
	return d == DataTypeContacts || d == DataTypeEmailAccounts
}

func (d DataType) String() string {
	return string(d)
}

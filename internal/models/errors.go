package models

// ModelError is a sentinel error raised by model constructors and parsers
type ModelError struct {
	Message string
}

func (e ModelError) Error() string {
	return e.Message
}

var (
	ErrUnsupportedDataType = ModelError{"unsupported data type"}
	ErrEmptyDeviceID       = ModelError{"device id cannot be empty"}
	ErrInvalidDeviceID     = ModelError{"device id contains invalid characters"}
	ErrDeviceNotFound      = ModelError{"device not found"}
	ErrDeviceInactive      = ModelError{"device is not active"}
	ErrInvalidRawItem      = ModelError{"raw item must be a JSON object"}
	ErrUnknownPayload      = ModelError{"unknown payload kind"}
	ErrInvalidDeviceToken  = ModelError{"invalid device token"}
	ErrBatchTooLarge       = ModelError{"batch exceeds the maximum number of items"}
)

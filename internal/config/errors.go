package config

import "errors"

// Sentinel errors returned by the config package.
var (
	// ErrNotConfig indicates data that is not a config document: the
	// self-describe tag is missing or the body is not a definite-length map
	// with text keys.
	ErrNotConfig = errors.New("config: not a config document")

	// ErrFieldType indicates a known key whose value has the wrong type or
	// does not fit the field.
	//
	// The whole document is rejected; nothing is applied.
	ErrFieldType = errors.New("config: field has wrong type")

	// ErrUnavailable indicates the filesystem could not be mounted.
	//
	// Mount failure is sticky for the life of the [Service].
	ErrUnavailable = errors.New("config: filesystem unavailable")

	// ErrVerify indicates the primary file did not read back as written.
	// The backup file was left untouched.
	ErrVerify = errors.New("config: verification failed")

	// ErrUnknownField indicates a name not in [Fields].
	ErrUnknownField = errors.New("config: unknown field")

	// ErrInvalidValue indicates text that cannot be parsed for a field.
	ErrInvalidValue = errors.New("config: invalid value")
)

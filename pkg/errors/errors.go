package errors

import (
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeNetwork represents network-level fetch errors
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeDecode represents character decoding errors
	ErrorTypeDecode ErrorType = "decode"
	// ErrorTypeExtraction represents HTML extraction errors
	ErrorTypeExtraction ErrorType = "extraction"
	// ErrorTypePersistence represents storage-layer errors
	ErrorTypePersistence ErrorType = "persistence"
	// ErrorTypeRateLimit represents rate limiting errors
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeNotify represents notifier delivery errors
	ErrorTypeNotify ErrorType = "notify"
	// ErrorTypeConfiguration represents configuration errors
	ErrorTypeConfiguration ErrorType = "configuration"
)

// WatcherError represents a crawl-pipeline error tagged with its origin store
type WatcherError struct {
	Type    ErrorType
	Store   string
	Message string
	Err     error
	Time    time.Time
}

// Error implements the error interface
func (e *WatcherError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s - %v", e.Type, e.Store, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Store, e.Message)
}

// Unwrap returns the underlying error
func (e *WatcherError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is worth retrying
func (e *WatcherError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeNetwork:
		return true
	default:
		return false
	}
}

// New creates a new WatcherError
func New(errType ErrorType, store, message string, err error) *WatcherError {
	return &WatcherError{
		Type:    errType,
		Store:   store,
		Message: message,
		Err:     err,
		Time:    time.Now(),
	}
}

// NewNetwork creates a new network error
func NewNetwork(store, message string, err error) *WatcherError {
	return New(ErrorTypeNetwork, store, message, err)
}

// NewDecode creates a new decode error
func NewDecode(store, message string, err error) *WatcherError {
	return New(ErrorTypeDecode, store, message, err)
}

// NewExtraction creates a new extraction error
func NewExtraction(store, message string, err error) *WatcherError {
	return New(ErrorTypeExtraction, store, message, err)
}

// NewPersistence creates a new persistence error
func NewPersistence(store, message string, err error) *WatcherError {
	return New(ErrorTypePersistence, store, message, err)
}

// NewRateLimit creates a new rate limit error
func NewRateLimit(store string, duration time.Duration) *WatcherError {
	message := fmt.Sprintf("rate limited for %v", duration)
	return New(ErrorTypeRateLimit, store, message, nil)
}

// NewNotify creates a new notifier error
func NewNotify(store, message string, err error) *WatcherError {
	return New(ErrorTypeNotify, store, message, err)
}

// NewConfiguration creates a new configuration error
func NewConfiguration(message string, err error) *WatcherError {
	return New(ErrorTypeConfiguration, "", message, err)
}

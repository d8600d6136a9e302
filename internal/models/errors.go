package models

import (
	"fmt"

	"github.com/pkg/errors"
)

// ParseError reports that a requirement could not be turned into rules.
type ParseError struct {
	Requirement string
	Err         error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse requirement: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// NewParseError wraps cause with a stack and the offending requirement.
func NewParseError(requirement string, cause error, msg string) *ParseError {
	return &ParseError{Requirement: requirement, Err: wrap(cause, msg)}
}

// DataError reports a failed or malformed price/news fetch.
type DataError struct {
	Ticker string
	Err    error
}

func (e *DataError) Error() string {
	if e.Ticker == "" {
		return fmt.Sprintf("data: %v", e.Err)
	}
	return fmt.Sprintf("data for %s: %v", e.Ticker, e.Err)
}

func (e *DataError) Unwrap() error { return e.Err }

// NewDataError wraps cause for ticker.
func NewDataError(ticker string, cause error, msg string) *DataError {
	return &DataError{Ticker: ticker, Err: wrap(cause, msg)}
}

// NotifyError reports a failed delivery on a channel.
type NotifyError struct {
	Channel Channel
	Err     error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("notify via %s: %v", e.Channel, e.Err)
}

func (e *NotifyError) Unwrap() error { return e.Err }

// NewNotifyError wraps cause for channel.
func NewNotifyError(channel Channel, cause error, msg string) *NotifyError {
	return &NotifyError{Channel: channel, Err: wrap(cause, msg)}
}

// wrap annotates cause with msg; a nil cause yields a fresh error.
func wrap(cause error, msg string) error {
	if cause == nil {
		return errors.New(msg)
	}
	return errors.Wrap(cause, msg)
}

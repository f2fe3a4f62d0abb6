package fts

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedPayload is returned when a length-bearing notification has the wrong byte count
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrInvalidCommand is returned for command bytes outside 1..3
	ErrInvalidCommand = errors.New("invalid command")

	// ErrServiceNotFound means the peer has no file transfer service
	ErrServiceNotFound = errors.New("file transfer service not found")

	// ErrCharacteristicNotFound means the service lacks an expected characteristic
	ErrCharacteristicNotFound = errors.New("characteristic not found")

	// ErrLinkLost is reported when the connection drops
	ErrLinkLost = errors.New("link lost")

	// ErrDisconnectRequested is the LinkLost cause for a local disconnect
	ErrDisconnectRequested = errors.New("disconnect requested")

	// ErrZeroFileSize is reported when file info announces an empty file under the abort policy
	ErrZeroFileSize = errors.New("file info reported zero size")

	// ErrCommandInFlight guards the single outstanding command
	ErrCommandInFlight = errors.New("command already in flight")

	// ErrUnexpectedNotification is returned for a notification the current state does not expect
	ErrUnexpectedNotification = errors.New("unexpected notification")

	// ErrOutOfOrderConfirmation is returned for a descriptor confirmation that is not the pending step
	ErrOutOfOrderConfirmation = errors.New("descriptor confirmation out of order")

	// ErrNotReady is returned when the transfer is started before the subscription completes
	ErrNotReady = errors.New("subscription not ready")

	// ErrTransferActive is returned when a transfer is started while one is running
	ErrTransferActive = errors.New("transfer already active")
)

// SubscriptionFailedError reports the step whose descriptor write did not confirm
type SubscriptionFailedError struct {
	Step Characteristic
	Err  error
}

func (e *SubscriptionFailedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("subscription failed at %s", e.Step)
	}
	return fmt.Sprintf("subscription failed at %s: %v", e.Step, e.Err)
}

func (e *SubscriptionFailedError) Unwrap() error {
	return e.Err
}

// IsUnsupportedDevice reports whether err means the peer cannot be used at all.
// These failures are fatal for the connection and must not be retried.
func IsUnsupportedDevice(err error) bool {
	if err == nil {
		return false
	}
	var subErr *SubscriptionFailedError
	return errors.Is(err, ErrServiceNotFound) ||
		errors.Is(err, ErrCharacteristicNotFound) ||
		errors.As(err, &subErr)
}

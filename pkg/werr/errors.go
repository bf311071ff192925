/*
Package werr contains the client-facing error values of the wallet
coordination service. Each error carries a stable machine-readable code that
is returned verbatim in HTTP responses, plus a short human-readable message.
*/
package werr

import (
	"errors"
	"fmt"
)

// Error represents a client error with a stable code. Transient and internal
// failures are ordinary errors and are never wrapped into Error.
type Error struct {
	// Code is the stable identifier of the error, e.g. "WALLET_NOT_FOUND".
	Code string `json:"code"`
	// Message is a short human-readable description.
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is makes all Error values with the same code match each other for
// errors.Is purposes irrespective of the message.
func (e *Error) Is(target error) bool {
	var te *Error
	if !errors.As(target, &te) {
		return false
	}
	return e.Code == te.Code
}

// New creates an Error with the given code and message.
func New(code string, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NotAuthorized returns a NOT_AUTHORIZED error with the given sub-message.
// The sub-message is deliberately generic ("Copayer not found", "Invalid
// signature", "Session expired") to avoid leaking entity existence.
func NotAuthorized(message string) *Error {
	return &Error{Code: "NOT_AUTHORIZED", Message: message}
}

// Client errors, returned verbatim in responses.
var (
	ErrNotAuthorized        = NotAuthorized("Not authorized")
	ErrCopayerNotFound      = NotAuthorized("Copayer not found")
	ErrInvalidSignature     = NotAuthorized("Invalid signature")
	ErrSessionExpired       = NotAuthorized("Session expired")
	ErrUpgradeNeeded        = New("UPGRADE_NEEDED", "Client app needs to be upgraded")
	ErrWalletNotFound       = New("WALLET_NOT_FOUND", "Wallet not found")
	ErrWalletAlreadyExists  = New("WALLET_ALREADY_EXISTS", "Wallet already exists")
	ErrWalletFull           = New("WALLET_FULL", "Wallet full")
	ErrWalletNotComplete    = New("WALLET_NOT_COMPLETE", "Wallet is not complete")
	ErrWalletNeedScan       = New("WALLET_NEED_SCAN", "Wallet needs addresses scan")
	ErrWalletBusy           = New("WALLET_BUSY", "Wallet is busy, try later")
	ErrCopayerInWallet      = New("COPAYER_IN_WALLET", "Copayer already in wallet")
	ErrCopayerRegistered    = New("COPAYER_REGISTERED", "Copayer ID already registered on server")
	ErrCopayerVoted         = New("COPAYER_VOTED", "Copayer already voted on this transaction proposal")
	ErrTxNotFound           = New("TX_NOT_FOUND", "Transaction proposal not found")
	ErrTxNotPending         = New("TX_NOT_PENDING", "Transaction proposal is not pending")
	ErrTxAlreadyAccepted    = New("TX_ALREADY_ACCEPTED", "Transaction proposal already accepted")
	ErrTxNotAccepted        = New("TX_NOT_ACCEPTED", "Transaction proposal is not accepted")
	ErrTxAlreadyBroadcasted = New("TX_ALREADY_BROADCASTED", "Transaction proposal already broadcasted")
	ErrTxCannotCreate       = New("TX_CANNOT_CREATE", "Cannot create transaction proposal during backoff time")
	ErrTxCannotRemove       = New("TX_CANNOT_REMOVE", "Cannot remove this transaction proposal during locktime")
	ErrBadSignatures        = New("BAD_SIGNATURES", "Bad signatures")
	ErrInvalidAddress       = New("INVALID_ADDRESS", "Invalid address")
	ErrInvalidChangeAddress = New("INVALID_CHANGE_ADDRESS", "Invalid change address")
	ErrAddressNotFound      = New("ADDRESS_NOT_FOUND", "Address not found")
	ErrMainAddressGap       = New("MAIN_ADDRESS_GAP_REACHED", "Maximum number of consecutive addresses without activity reached")
	ErrTooManyKeys          = New("TOO_MANY_KEYS", "Too many request keys registered")
	ErrUnavailableUTXOs     = New("UNAVAILABLE_UTXOS", "Unavailable unspent outputs")
	ErrInsufficientFunds    = New("INSUFFICIENT_FUNDS", "Insufficient funds")
	ErrHistoryLimitExceeded = New("HISTORY_LIMIT_EXCEEDED", "Transaction history limit exceeded")
	ErrLockTimeout          = New("LOCK_TIMEOUT", "Wallet operation timed out waiting for the wallet lock")
)

// IsClient reports whether err is (or wraps) a client Error.
func IsClient(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// Code returns the code of a client error or an empty string for other
// errors.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

package ledger

import "errors"

var (
	ErrNotOwner            = errors.New("caller is not the owner")
	ErrInvalidState        = errors.New("invalid lifecycle state")
	ErrSystemPaused        = errors.New("system is not active")
	ErrDuplicateCommitment = errors.New("commitment already has an open deposit")
	ErrNotFound            = errors.New("no open deposit")
	ErrNotDepositor        = errors.New("caller is not the depositor")
	ErrExpired             = errors.New("deposit deadline has passed")
	ErrNotExpired          = errors.New("deposit deadline has not passed")
	ErrInsufficientValue   = errors.New("value does not cover the fee")
	ErrNullAddress         = errors.New("null address")
	ErrTransferFailed      = errors.New("transfer failed")
	ErrOverflow            = errors.New("arithmetic overflow")
	ErrInconsistent        = errors.New("store holds an unreverted operation")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrInconsistent, "Inconsistent"},
	{ErrNotOwner, "NotOwner"},
	{ErrInvalidState, "InvalidState"},
	{ErrSystemPaused, "SystemPaused"},
	{ErrDuplicateCommitment, "DuplicateCommitment"},
	{ErrNotFound, "NotFound"},
	{ErrNotDepositor, "NotDepositor"},
	{ErrExpired, "Expired"},
	{ErrNotExpired, "NotExpired"},
	{ErrInsufficientValue, "InsufficientValue"},
	{ErrNullAddress, "NullAddress"},
	{ErrTransferFailed, "TransferFailed"},
	{ErrOverflow, "Overflow"},
}

// Code returns the stable error kind name for err, or "Internal" when err
// does not wrap one of the ledger errors.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "Internal"
}

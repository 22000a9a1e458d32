package script

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a class of script failure.
type ErrorCode int

const (
	ErrInternal ErrorCode = iota
	ErrStackUnderflow
	ErrStackOverflow
	ErrInvalidOpcode
	ErrDisabledOpcode
	ErrReservedOpcode
	ErrMalformedPush
	ErrScriptTooLarge
	ErrElementTooLarge
	ErrTooManyOperations
	ErrUnbalancedConditional
	ErrVerifyFailed
	ErrEarlyReturn
	ErrEvalFalse
	ErrCleanStack
	ErrNumberTooBig
	ErrInvalidPubKey
	ErrSignatureVerificationFailed
	ErrInvalidIndex
	ErrInvalidPubKeyCount
	ErrInvalidSignatureCount
	ErrNotPushOnly
)

var errorCodeNames = map[ErrorCode]string{
	ErrInternal:                    "Internal",
	ErrStackUnderflow:              "StackUnderflow",
	ErrStackOverflow:               "StackOverflow",
	ErrInvalidOpcode:               "InvalidOpcode",
	ErrDisabledOpcode:              "DisabledOpcode",
	ErrReservedOpcode:              "ReservedOpcode",
	ErrMalformedPush:               "MalformedPush",
	ErrScriptTooLarge:              "ScriptTooLarge",
	ErrElementTooLarge:             "ElementTooLarge",
	ErrTooManyOperations:           "TooManyOperations",
	ErrUnbalancedConditional:       "UnbalancedConditional",
	ErrVerifyFailed:                "VerifyFailed",
	ErrEarlyReturn:                 "EarlyReturn",
	ErrEvalFalse:                   "EvalFalse",
	ErrCleanStack:                  "CleanStack",
	ErrNumberTooBig:                "NumberTooBig",
	ErrInvalidPubKey:               "InvalidPubKey",
	ErrSignatureVerificationFailed: "SignatureVerificationFailed",
	ErrInvalidIndex:                "InvalidIndex",
	ErrInvalidPubKeyCount:          "InvalidPubKeyCount",
	ErrInvalidSignatureCount:       "InvalidSignatureCount",
	ErrNotPushOnly:                 "NotPushOnly",
}

func (c ErrorCode) String() string {
	if s, ok := errorCodeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Error is a script validation failure. Matching on the code works through
// errors.Is with the code itself:
//
//	errors.Is(err, script.ErrStackUnderflow)
type Error struct {
	Code        ErrorCode
	Description string
}

func (e *Error) Error() string {
	return fmt.Sprintf("script validation failed (%s): %s", e.Code, e.Description)
}

// Is matches either another *Error with the same code or a bare ErrorCode.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case ErrorCode:
		return e.Code == t
	case *Error:
		return e.Code == t.Code
	}
	return false
}

// Error lets an ErrorCode act as a sentinel for errors.Is.
func (c ErrorCode) Error() string {
	return c.String()
}

func scriptError(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Description: fmt.Sprintf(format, args...)}
}

// IsErrorCode reports whether err is a script error with the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	var se *Error
	return errors.As(err, &se) && se.Code == code
}

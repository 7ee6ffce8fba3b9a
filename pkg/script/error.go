package script

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/tapnode/pkg/ruleerr"
)

// ErrorCode identifies a kind of script failure.
type ErrorCode int

// Script error codes.
const (
	ErrInternal ErrorCode = iota
	ErrEvalFalse
	ErrEarlyReturn
	ErrScriptSize
	ErrElementTooBig
	ErrTooManyOperations
	ErrStackOverflow
	ErrInvalidPubKeyCount
	ErrInvalidSignatureCount
	ErrMalformedPush
	ErrBadOpcode
	ErrDisabledOpcode
	ErrReservedOpcode
	ErrInvalidStackOperation
	ErrInvalidAltStackOperation
	ErrUnbalancedConditional
	ErrVerify
	ErrEqualVerify
	ErrNumEqualVerify
	ErrCheckSigVerify
	ErrCheckMultiSigVerify
	ErrNumberTooBig
	ErrMinimalData
	ErrMinimalIf
	ErrNegativeLockTime
	ErrUnsatisfiedLockTime
	ErrSigHashType
	ErrSigDER
	ErrSigHighS
	ErrSigNullDummy
	ErrSigNullFail
	ErrSigPushOnly
	ErrPubKeyType
	ErrCleanStack
	ErrDiscourageUpgradableNOPs
	ErrWitnessProgramWrongLength
	ErrWitnessProgramWitnessEmpty
	ErrWitnessProgramMismatch
	ErrWitnessMalleated
	ErrWitnessMalleatedP2SH
	ErrWitnessUnexpected
	ErrWitnessPubKeyType
	ErrDiscourageUpgradableWitnessProgram
	ErrSchnorrSigSize
	ErrSchnorrSigHashType
	ErrSchnorrSig
	ErrTaprootWrongControlSize
	ErrTaprootCommitment
	ErrTapscriptValidationWeight
	ErrTapscriptCheckMultiSig
	ErrTapscriptMinimalIf
	ErrTaprootPubKeyEmpty
	ErrDiscourageUpgradableTaprootVersion
	ErrDiscourageOpSuccess
	ErrDiscourageUpgradablePubKeyType
	ErrMissingTxContext
)

var errorCodeNames = map[ErrorCode]string{
	ErrInternal:                           "ErrInternal",
	ErrEvalFalse:                          "ErrEvalFalse",
	ErrEarlyReturn:                        "ErrEarlyReturn",
	ErrScriptSize:                         "ErrScriptSize",
	ErrElementTooBig:                      "ErrElementTooBig",
	ErrTooManyOperations:                  "ErrTooManyOperations",
	ErrStackOverflow:                      "ErrStackOverflow",
	ErrInvalidPubKeyCount:                 "ErrInvalidPubKeyCount",
	ErrInvalidSignatureCount:              "ErrInvalidSignatureCount",
	ErrMalformedPush:                      "ErrMalformedPush",
	ErrBadOpcode:                          "ErrBadOpcode",
	ErrDisabledOpcode:                     "ErrDisabledOpcode",
	ErrReservedOpcode:                     "ErrReservedOpcode",
	ErrInvalidStackOperation:              "ErrInvalidStackOperation",
	ErrInvalidAltStackOperation:           "ErrInvalidAltStackOperation",
	ErrUnbalancedConditional:              "ErrUnbalancedConditional",
	ErrVerify:                             "ErrVerify",
	ErrEqualVerify:                        "ErrEqualVerify",
	ErrNumEqualVerify:                     "ErrNumEqualVerify",
	ErrCheckSigVerify:                     "ErrCheckSigVerify",
	ErrCheckMultiSigVerify:                "ErrCheckMultiSigVerify",
	ErrNumberTooBig:                       "ErrNumberTooBig",
	ErrMinimalData:                        "ErrMinimalData",
	ErrMinimalIf:                          "ErrMinimalIf",
	ErrNegativeLockTime:                   "ErrNegativeLockTime",
	ErrUnsatisfiedLockTime:                "ErrUnsatisfiedLockTime",
	ErrSigHashType:                        "ErrSigHashType",
	ErrSigDER:                             "ErrSigDER",
	ErrSigHighS:                           "ErrSigHighS",
	ErrSigNullDummy:                       "ErrSigNullDummy",
	ErrSigNullFail:                        "ErrSigNullFail",
	ErrSigPushOnly:                        "ErrSigPushOnly",
	ErrPubKeyType:                         "ErrPubKeyType",
	ErrCleanStack:                         "ErrCleanStack",
	ErrDiscourageUpgradableNOPs:           "ErrDiscourageUpgradableNOPs",
	ErrWitnessProgramWrongLength:          "ErrWitnessProgramWrongLength",
	ErrWitnessProgramWitnessEmpty:         "ErrWitnessProgramWitnessEmpty",
	ErrWitnessProgramMismatch:             "ErrWitnessProgramMismatch",
	ErrWitnessMalleated:                   "ErrWitnessMalleated",
	ErrWitnessMalleatedP2SH:               "ErrWitnessMalleatedP2SH",
	ErrWitnessUnexpected:                  "ErrWitnessUnexpected",
	ErrWitnessPubKeyType:                  "ErrWitnessPubKeyType",
	ErrDiscourageUpgradableWitnessProgram: "ErrDiscourageUpgradableWitnessProgram",
	ErrSchnorrSigSize:                     "ErrSchnorrSigSize",
	ErrSchnorrSigHashType:                 "ErrSchnorrSigHashType",
	ErrSchnorrSig:                         "ErrSchnorrSig",
	ErrTaprootWrongControlSize:            "ErrTaprootWrongControlSize",
	ErrTaprootCommitment:                  "ErrTaprootCommitment",
	ErrTapscriptValidationWeight:          "ErrTapscriptValidationWeight",
	ErrTapscriptCheckMultiSig:             "ErrTapscriptCheckMultiSig",
	ErrTapscriptMinimalIf:                 "ErrTapscriptMinimalIf",
	ErrTaprootPubKeyEmpty:                 "ErrTaprootPubKeyEmpty",
	ErrDiscourageUpgradableTaprootVersion: "ErrDiscourageUpgradableTaprootVersion",
	ErrDiscourageOpSuccess:                "ErrDiscourageOpSuccess",
	ErrDiscourageUpgradablePubKeyType:     "ErrDiscourageUpgradablePubKeyType",
	ErrMissingTxContext:                   "ErrMissingTxContext",
}

// String returns the code name.
func (c ErrorCode) String() string {
	if s, ok := errorCodeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(c))
}

// Kind maps the code to its failure class. Codes raised only by policy
// flags map to ruleerr.Policy, limit codes to ruleerr.ResourceLimit and
// malformed input to ruleerr.Structural.
func (c ErrorCode) Kind() ruleerr.Kind {
	switch c {
	case ErrScriptSize, ErrElementTooBig, ErrTooManyOperations, ErrStackOverflow,
		ErrInvalidPubKeyCount, ErrInvalidSignatureCount, ErrNumberTooBig,
		ErrTapscriptValidationWeight:
		return ruleerr.ResourceLimit

	case ErrMalformedPush, ErrBadOpcode, ErrWitnessProgramWrongLength,
		ErrTaprootWrongControlSize, ErrSchnorrSigSize, ErrMissingTxContext:
		return ruleerr.Structural

	case ErrDiscourageUpgradableNOPs, ErrDiscourageUpgradableWitnessProgram,
		ErrDiscourageUpgradableTaprootVersion, ErrDiscourageOpSuccess,
		ErrDiscourageUpgradablePubKeyType, ErrMinimalData, ErrMinimalIf, ErrSigHighS,
		ErrPubKeyType, ErrWitnessPubKeyType, ErrSigNullFail:
		return ruleerr.Policy
	}
	return ruleerr.ConsensusRule
}

// Error is a script failure with its code.
type Error struct {
	Code        ErrorCode
	Description string
}

// Error implements the error interface.
func (e Error) Error() string {
	return e.Description
}

// RuleKind implements ruleerr.Classified.
func (e Error) RuleKind() ruleerr.Kind {
	return e.Code.Kind()
}

// Is lets errors.Is match on the code alone.
func (e Error) Is(target error) bool {
	t, ok := target.(Error)
	return ok && t.Code == e.Code
}

func scriptError(c ErrorCode, desc string) Error {
	return Error{Code: c, Description: desc}
}

func scriptErrorf(c ErrorCode, format string, args ...any) Error {
	return Error{Code: c, Description: fmt.Sprintf(format, args...)}
}

// IsErrorCode reports whether err is a script Error with code c.
func IsErrorCode(err error, c ErrorCode) bool {
	var e Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == c
}

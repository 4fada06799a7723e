// Package errors provides structured error handling with i18n support.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Command errors
	CodeInvalidCommand Code = "INVALID_COMMAND"
	CodeWrongQuantity  Code = "WRONG_QUANTITY"
	CodePrecondition   Code = "PRECONDITION"

	// Account errors
	CodeAccountAlreadyExists Code = "ACCOUNT_ALREADY_EXISTS"
	CodeAccountPseudoEmpty   Code = "ACCOUNT_PSEUDO_EMPTY"
	CodeAccountNotCreated    Code = "ACCOUNT_NOT_CREATED"

	// Bank errors
	CodeBankInsufficientGold Code = "BANK_INSUFFICIENT_GOLD"

	// Building errors
	CodeBuildingAlreadyExists Code = "BUILDING_ALREADY_EXISTS"
	CodeBuildingNotCreated    Code = "BUILDING_NOT_CREATED"
	CodeBuildingAlreadyBuilt  Code = "BUILDING_ALREADY_BUILT"

	// Worker errors
	CodeWorkerInsufficient Code = "WORKER_INSUFFICIENT"

	// Storage errors
	CodeNotFound      Code = "NOT_FOUND"
	CodeAlreadyExists Code = "ALREADY_EXISTS"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeInvalidCommand,
		CodeAccountPseudoEmpty:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeWrongQuantity,
		CodePrecondition,
		CodeAccountNotCreated,
		CodeBankInsufficientGold,
		CodeBuildingNotCreated,
		CodeBuildingAlreadyBuilt,
		CodeWorkerInsufficient:
		return codes.FailedPrecondition

	// NotFound - resource doesn't exist
	case CodeNotFound:
		return codes.NotFound

	// AlreadyExists - unique resource constraint
	case CodeAlreadyExists,
		CodeAccountAlreadyExists,
		CodeBuildingAlreadyExists:
		return codes.AlreadyExists

	default:
		return codes.Internal
	}
}

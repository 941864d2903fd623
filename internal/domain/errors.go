package domain

import "errors"

var (
	ErrExecutionNotFound      = errors.New("execution not found")
	ErrGraphNotFound          = errors.New("graph not registered")
	ErrDuplicateGraphVersion  = errors.New("graph with this name and version is already registered")
	ErrNodeNotFound           = errors.New("node not declared on graph")
	ErrValueNotFound          = errors.New("value slot not found")
	ErrComputationNotFound    = errors.New("computation not found")

	ErrNotSet            = errors.New("value slot is not set")
	ErrComputationFailed = errors.New("computation permanently failed")

	ErrInvalidInputNode         = errors.New("only input nodes may be set or unset directly")
	ErrInvalidValueShape        = errors.New("map values must use string keys")
	ErrInvalidGatingExpression  = errors.New("gating expression could not be interpreted")
	ErrDuplicateNodeName        = errors.New("two nodes share the same name")
	ErrUnknownDependency        = errors.New("gating expression references an undeclared node")
	ErrInvalidHeartbeatConfig   = errors.New("heartbeat configuration violates graph bounds")

	ErrUserFunctionException = errors.New("user function raised an exception")
	ErrUserFunctionBadReturn = errors.New("user function returned an unrecognized shape")
)

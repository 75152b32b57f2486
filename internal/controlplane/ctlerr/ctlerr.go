// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ctlerr defines the error kinds surfaced by the control plane core.
package ctlerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error surfaced by the core so callers can branch on it
// with errors.Is / Kind.Is rather than string matching.
type Kind string

const (
	InvalidInput        Kind = "invalid_input"
	Conflict            Kind = "conflict"
	NoAvailableNodes    Kind = "no_available_nodes"
	CapacityExceeded    Kind = "capacity_exceeded"
	Timeout             Kind = "timeout"
	BackendFailure      Kind = "backend_failure"
	InsufficientSamples Kind = "insufficient_samples"
)

// sentinel per kind; errors.Is(err, ctlerr.ErrTimeout) works without allocating.
var (
	ErrInvalidInput        = errors.New(string(InvalidInput))
	ErrConflict            = errors.New(string(Conflict))
	ErrNoAvailableNodes    = errors.New(string(NoAvailableNodes))
	ErrCapacityExceeded    = errors.New(string(CapacityExceeded))
	ErrTimeout             = errors.New(string(Timeout))
	ErrBackendFailure      = errors.New(string(BackendFailure))
	ErrInsufficientSamples = errors.New(string(InsufficientSamples))
)

func sentinelFor(k Kind) error {
	switch k {
	case InvalidInput:
		return ErrInvalidInput
	case Conflict:
		return ErrConflict
	case NoAvailableNodes:
		return ErrNoAvailableNodes
	case CapacityExceeded:
		return ErrCapacityExceeded
	case Timeout:
		return ErrTimeout
	case BackendFailure:
		return ErrBackendFailure
	case InsufficientSamples:
		return ErrInsufficientSamples
	default:
		return errors.New(string(k))
	}
}

// Error wraps a Kind with contextual detail, following the teacher's plain
// fmt.Errorf-wrap convention instead of a stack-carrying errors package.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ctlerr.ErrTimeout) etc. match regardless of whether
// this Error wraps a downstream cause.
func (e *Error) Is(target error) bool {
	return target == sentinelFor(e.Kind)
}

// New builds an *Error for the given kind with a formatted detail message.
func New(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Detail: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error that also unwraps to the supplied cause, preserving
// errors.Is/As against the original error (e.g. a BackendFailure carrying an
// opaque downstream error payload).
func Wrap(k Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: k, Detail: fmt.Sprintf(format, args...), Err: cause}
}

// Is reports whether err was produced for the given Kind.
func Is(err error, k Kind) bool {
	return errors.Is(err, sentinelFor(k))
}

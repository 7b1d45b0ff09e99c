// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cabfile

import "fmt"

// ErrorKind classifies the errors this package returns, so that callers can
// distinguish a malformed cabinet from a caller mistake without parsing
// error strings.
type ErrorKind int

const (
	// InvalidData means on-disk content violates the cabinet format.
	InvalidData ErrorKind = iota
	// InvalidInput means the caller asked for something the API forbids.
	InvalidInput
	// NotFound means a named file does not exist in the cabinet.
	NotFound
	// Unsupported means the operation is recognized but not implemented
	// (Quantum or LZX decompression, Quantum or LZX compression).
	Unsupported
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidData:
		return "invalid data"
	case InvalidInput:
		return "invalid input"
	case NotFound:
		return "not found"
	case Unsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Error is the error type returned by every exported operation in this
// package. Use errors.As to recover it and inspect Kind.
type Error struct {
	Kind ErrorKind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("cabfile: %s: %v", e.msg, e.err)
	}
	return fmt.Sprintf("cabfile: %s", e.msg)
}

func (e *Error) Unwrap() error { return e.err }

func newErr(kind ErrorKind, msg string) error {
	return &Error{Kind: kind, msg: msg}
}

func wrapErr(kind ErrorKind, err error, format string, args ...interface{}) error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...), err: err}
}

func errInvalidData(format string, args ...interface{}) error {
	return newErr(InvalidData, fmt.Sprintf(format, args...))
}

func errInvalidDataf(err error, format string, args ...interface{}) error {
	return wrapErr(InvalidData, err, format, args...)
}

func errInvalidInput(format string, args ...interface{}) error {
	return newErr(InvalidInput, fmt.Sprintf(format, args...))
}

func errNotFound(format string, args ...interface{}) error {
	return newErr(NotFound, fmt.Sprintf(format, args...))
}

func errUnsupported(format string, args ...interface{}) error {
	return newErr(Unsupported, fmt.Sprintf(format, args...))
}

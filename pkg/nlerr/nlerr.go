// Copyright 2021 Matrix Origin
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

// Package nlerr implements the error taxonomy of §7: a small set of
// sentinel categories, each wrappable with context via
// github.com/cockroachdb/errors, and each testable with errors.Is.
//
// This mirrors the shape of the teacher's own (referenced, not retrieved)
// pkg/common/moerr package: a fixed set of categories, constructors that
// attach a human message, and errors.Is-compatible sentinels rather than
// string matching.
package nlerr

import (
	"github.com/cockroachdb/errors"
)

// Category is one of the five error classes of §7.
type Category struct {
	name string
}

func (c Category) Error() string { return c.name }

var (
	// CategoryTransport covers socket/TLS failures. Client: triggers
	// reconnect. Viewer: terminates the session.
	CategoryTransport = Category{"transport error"}

	// CategoryProtocol covers bad length, sequence gaps, a first frame
	// that isn't CLIENT_INFO, or an unknown required key. Both sides
	// terminate the session immediately with no partial state surfaced.
	CategoryProtocol = Category{"protocol error"}

	// CategoryCapacity covers a full queue while not buffering.
	CategoryCapacity = Category{"capacity error"}

	// CategoryConfiguration covers bad certificates or a port already in
	// use; surfaced synchronously at startup, never at runtime.
	CategoryConfiguration = Category{"configuration error"}

	// CategoryCancelled is the normal shutdown path, never reported as a
	// failure.
	CategoryCancelled = Category{"cancelled"}
)

// Transport wraps err as a TransportError with the given message. err may
// be nil, in which case a fresh error is created (useful when the
// category itself is the only available diagnostic, e.g. a validation
// failure with no underlying cause).
func Transport(err error, format string, args ...any) error {
	if err == nil {
		return errors.Mark(errors.Newf(format, args...), CategoryTransport)
	}
	return errors.Mark(errors.Wrapf(err, format, args...), CategoryTransport)
}

// Protocol constructs a ProtocolError with the given message and no
// underlying cause (protocol violations are detected, not propagated from
// a lower layer).
func Protocol(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), CategoryProtocol)
}

// Capacity constructs a CapacityError.
func Capacity(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), CategoryCapacity)
}

// Configuration wraps err as a ConfigurationError. err may be nil.
func Configuration(err error, format string, args ...any) error {
	if err == nil {
		return errors.Mark(errors.Newf(format, args...), CategoryConfiguration)
	}
	return errors.Mark(errors.Wrapf(err, format, args...), CategoryConfiguration)
}

// Cancelled constructs the sentinel Cancelled error.
func Cancelled(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), CategoryCancelled)
}

// Is reports whether err belongs to category.
func Is(err error, category Category) bool {
	return errors.Is(err, category)
}

// IsTransport, IsProtocol, IsCapacity, IsConfiguration, IsCancelled are
// convenience wrappers around Is for the five taxonomy categories.
func IsTransport(err error) bool     { return Is(err, CategoryTransport) }
func IsProtocol(err error) bool      { return Is(err, CategoryProtocol) }
func IsCapacity(err error) bool      { return Is(err, CategoryCapacity) }
func IsConfiguration(err error) bool { return Is(err, CategoryConfiguration) }
func IsCancelled(err error) bool     { return Is(err, CategoryCancelled) }

/*
Copyright (C) 2023  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package tsdb

import "fmt"

// Kind distinguishes the recoverable failure modes the engine surfaces.
// Faults on single shards (IoFault/ParseError/NotFound) are logged and
// skipped rather than returned; whole-operation failures of Open, Flush,
// Purge, Close, Backup and Restore, an unknown aggregation key, and a
// missing consent string are returned as *Error values that can be
// inspected with errors.Is against the sentinels below.
type Kind int

const (
	KindNotFound Kind = iota
	KindIoFault
	KindParseError
	KindUnsupportedAggregation
	KindInvalidConsent
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindIoFault:
		return "io_fault"
	case KindParseError:
		return "parse_error"
	case KindUnsupportedAggregation:
		return "unsupported_aggregation"
	case KindInvalidConsent:
		return "invalid_consent"
	default:
		return "unknown"
	}
}

// Error wraps a Kind with the path/context the failure happened at.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Path)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrNotFound) etc. work by comparing Kind only;
// Path/Err are context, not identity.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind Kind, path string, err error) *Error {
	return &Error{Kind: kind, Path: path, Err: err}
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrIoFault                = &Error{Kind: KindIoFault}
	ErrParseError             = &Error{Kind: KindParseError}
	ErrUnsupportedAggregation = &Error{Kind: KindUnsupportedAggregation}
	ErrInvalidConsent         = &Error{Kind: KindInvalidConsent}
)

// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package marshal

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes a DecodeError.
type Kind string

const (
	// KindTypeMismatch is reported when the host value has a different shape than the requested Go type.
	KindTypeMismatch Kind = "type_mismatch"
	// KindOverflow is reported when a number cannot be represented exactly by the target type.
	KindOverflow Kind = "overflow"
	// KindInvalidKey is reported when a table key cannot be decoded into the map key type.
	KindInvalidKey Kind = "invalid_key"
	// KindUnsupported is reported for Go types the marshaller does not handle.
	KindUnsupported Kind = "unsupported"
)

var (
	// ErrTypeMismatch matches any DecodeError of KindTypeMismatch with errors.Is.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrOverflow matches any DecodeError of KindOverflow with errors.Is.
	ErrOverflow = errors.New("overflow")
)

// DecodeError is returned when a value cannot be converted between its host and Go representations.
// Despite the name it is used in both directions; encoding only produces KindOverflow and KindUnsupported.
type DecodeError struct {
	Kind     Kind
	Path     []string
	GoType   string
	HostType string
	Detail   string
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, ""))
	}
	if e.GoType != "" || e.HostType != "" {
		fmt.Fprintf(&b, ": cannot convert %s to %s", orUnknown(e.HostType), orUnknown(e.GoType))
	}
	if e.Detail != "" {
		b.WriteString(" (")
		b.WriteString(e.Detail)
		b.WriteString(")")
	}
	return b.String()
}

// Is supports errors.Is against ErrTypeMismatch and ErrOverflow.
func (e *DecodeError) Is(target error) bool {
	switch target {
	case ErrTypeMismatch:
		return e.Kind == KindTypeMismatch
	case ErrOverflow:
		return e.Kind == KindOverflow
	}
	return false
}

func orUnknown(s string) string {
	if s == "" {
		return "?"
	}
	return s
}

func typeMismatch(path []string, goType, hostType string) *DecodeError {
	return &DecodeError{Kind: KindTypeMismatch, Path: clonePath(path), GoType: goType, HostType: hostType}
}

func overflow(path []string, goType string, detail string, args ...any) *DecodeError {
	return &DecodeError{Kind: KindOverflow, Path: clonePath(path), GoType: goType, HostType: "number", Detail: fmt.Sprintf(detail, args...)}
}

func unsupported(path []string, goType string) *DecodeError {
	return &DecodeError{Kind: KindUnsupported, Path: clonePath(path), GoType: goType}
}

// clonePath keeps errors independent from the path slice the walker keeps appending to.
func clonePath(path []string) []string {
	if len(path) == 0 {
		return nil
	}
	return append([]string(nil), path...)
}

// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package haproxy

// Fetches gives access to the sample fetches of HAProxy, such as "method", "path" or "hdr".
type Fetches struct {
	Handle
}

// Fetch runs the sample fetch name with args and decodes its result into R.
func Fetch[R any](f Fetches, name string, args ...any) (R, error) {
	return Call[R](f.Handle, name, args...)
}

// String runs the sample fetch name and returns its result as a string.
// A fetch that yields nothing returns the empty string.
func (f Fetches) String(name string, args ...any) (string, error) {
	return CallString(f.Handle, name, args...)
}

// Converters gives access to the sample converters of HAProxy, such as "lower" or "url_dec".
type Converters struct {
	Handle
}

// Convert runs the converter name on input with args and decodes its result into R.
func Convert[R any](c Converters, name string, input any, args ...any) (R, error) {
	return Call[R](c.Handle, name, append([]any{input}, args...)...)
}

// String runs the converter name on input and returns its result as a string.
// A converter that yields nothing returns the empty string.
func (c Converters) String(name string, input any, args ...any) (string, error) {
	return CallString(c.Handle, name, append([]any{input}, args...)...)
}

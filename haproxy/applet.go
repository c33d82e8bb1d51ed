// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package haproxy

import "github.com/hapgo/hapi/marshal"

// AppletHTTP is the object passed to an HTTP service. The request is read from its
// fields; the response is built with SetStatus and AddHeader, then StartResponse,
// then one or more Send.
type AppletHTTP struct {
	Handle
}

// Method returns the request method.
func (a AppletHTTP) Method() (string, error) { return Field[string](a.Handle, "method") }

// Path returns the request path, without the query string.
func (a AppletHTTP) Path() (string, error) { return Field[string](a.Handle, "path") }

// Query returns the query string, without the question mark.
func (a AppletHTTP) Query() (string, error) {
	q, err := Field[marshal.Option[string]](a.Handle, "qs")
	return q.OrZero(), err
}

// Version returns the HTTP version of the request, such as "1.1".
func (a AppletHTTP) Version() (string, error) { return Field[string](a.Handle, "version") }

// Headers returns the request headers.
func (a AppletHTTP) Headers() (Headers, error) { return Field[Headers](a.Handle, "headers") }

// SetStatus sets the response status. Without a reason the host uses the standard one.
func (a AppletHTTP) SetStatus(status uint16, reason marshal.Option[string]) error {
	return a.Invoke("set_status", status, reason)
}

// AddHeader adds a response header. It must be called before StartResponse.
func (a AppletHTTP) AddHeader(name string, value any) error {
	return a.Invoke("add_header", name, value)
}

// StartResponse sends the status line and the headers.
func (a AppletHTTP) StartResponse() error { return a.Invoke("start_response") }

// Send writes body to the response.
func (a AppletHTTP) Send(body string) error { return a.Invoke("send", body) }

// Receive reads up to size bytes of the request body, or everything when size is negative.
func (a AppletHTTP) Receive(size int) (string, error) {
	if size < 0 {
		return CallString(a.Handle, "receive")
	}
	return CallString(a.Handle, "receive", size)
}

// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package haproxy

import "github.com/hapgo/hapi/marshal"

// HTTP is the "HTTP" class of a transaction: it manipulates the request and the response headers.
type HTTP struct {
	Handle
}

// ReqGetHeaders returns all the request headers.
func (h HTTP) ReqGetHeaders() (Headers, error) {
	return Call[Headers](h.Handle, "req_get_headers")
}

// ResGetHeaders returns all the response headers.
func (h HTTP) ResGetHeaders() (Headers, error) {
	return Call[Headers](h.Handle, "res_get_headers")
}

// ReqAddHeader appends a header field name with value to the request.
func (h HTTP) ReqAddHeader(name string, value any) error {
	return h.Invoke("req_add_header", name, value)
}

// ResAddHeader appends a header field name with value to the response.
func (h HTTP) ResAddHeader(name string, value any) error {
	return h.Invoke("res_add_header", name, value)
}

// ReqDelHeader removes all the request header fields called name.
func (h HTTP) ReqDelHeader(name string) error {
	return h.Invoke("req_del_header", name)
}

// ResDelHeader removes all the response header fields called name.
func (h HTTP) ResDelHeader(name string) error {
	return h.Invoke("res_del_header", name)
}

// ReqSetHeader replaces all the request header fields called name by a single one holding value.
func (h HTTP) ReqSetHeader(name string, value any) error {
	return h.Invoke("req_set_header", name, value)
}

// ResSetHeader replaces all the response header fields called name by a single one holding value.
func (h HTTP) ResSetHeader(name string, value any) error {
	return h.Invoke("res_set_header", name, value)
}

// ReqRepHeader applies regex to every request header field called name and replaces
// the matches with replace, which may contain back references such as \1.
func (h HTTP) ReqRepHeader(name, regex, replace string) error {
	return h.Invoke("req_rep_header", name, regex, replace)
}

// ResRepHeader is ReqRepHeader for the response.
func (h HTTP) ResRepHeader(name, regex, replace string) error {
	return h.Invoke("res_rep_header", name, regex, replace)
}

// ReqSetMethod rewrites the request method.
func (h HTTP) ReqSetMethod(method string) error {
	return h.Invoke("req_set_method", method)
}

// ReqSetPath rewrites the request path.
func (h HTTP) ReqSetPath(path string) error {
	return h.Invoke("req_set_path", path)
}

// ReqSetQuery rewrites the query string, the part of the request after the first question mark.
func (h HTTP) ReqSetQuery(query string) error {
	return h.Invoke("req_set_query", query)
}

// ReqSetURI rewrites the request URI.
func (h HTTP) ReqSetURI(uri string) error {
	return h.Invoke("req_set_uri", uri)
}

// ResSetStatus rewrites the response status code. Without a reason, the host derives it from the status.
func (h HTTP) ResSetStatus(status uint16, reason marshal.Option[string]) error {
	return h.Invoke("res_set_status", status, reason)
}

// HTTPMessage is one side of an HTTP transaction (the request or the response) as seen by filters and actions.
type HTTPMessage struct {
	Handle
}

// StartLine is the decoded start line of an HTTP message. Request fields are empty on a
// response and the other way around.
type StartLine struct {
	Method  string
	URI     string
	Version string
	Code    string
	Reason  string
}

// GetHeaders returns the headers of the message.
func (m HTTPMessage) GetHeaders() (Headers, error) {
	return Call[Headers](m.Handle, "get_headers")
}

// AddHeader appends a header field name with value.
func (m HTTPMessage) AddHeader(name string, value any) error {
	return m.Invoke("add_header", name, value)
}

// DelHeader removes all the header fields called name.
func (m HTTPMessage) DelHeader(name string) error {
	return m.Invoke("del_header", name)
}

// SetHeader replaces all the header fields called name by a single one holding value.
func (m HTTPMessage) SetHeader(name string, value any) error {
	return m.Invoke("set_header", name, value)
}

// RepHeader applies regex to every header field called name and replaces the matches with replace.
func (m HTTPMessage) RepHeader(name, regex, replace string) error {
	return m.Invoke("rep_header", name, regex, replace)
}

// GetStline returns the start line of the message.
func (m HTTPMessage) GetStline() (StartLine, error) {
	fields, err := Call[map[string]string](m.Handle, "get_stline")
	if err != nil {
		return StartLine{}, err
	}
	return StartLine{
		Method:  fields["method"],
		URI:     fields["uri"],
		Version: fields["version"],
		Code:    fields["code"],
		Reason:  fields["reason"],
	}, nil
}

// Body returns length bytes of the buffered payload starting at offset. A negative
// length reads everything that is available.
func (m HTTPMessage) Body(offset, length int) (string, error) {
	return CallString(m.Handle, "body", offset, length)
}

// IsResp reports whether the message is a response.
func (m HTTPMessage) IsResp() (bool, error) {
	return Call[bool](m.Handle, "is_resp")
}

// SetStatus rewrites the status of a response message.
func (m HTTPMessage) SetStatus(status uint16, reason marshal.Option[string]) error {
	return m.Invoke("set_status", status, reason)
}

// SetMethod rewrites the method of a request message.
func (m HTTPMessage) SetMethod(method string) error {
	return m.Invoke("set_method", method)
}

// SetPath rewrites the path of a request message.
func (m HTTPMessage) SetPath(path string) error {
	return m.Invoke("set_path", path)
}

// SetQuery rewrites the query string of a request message.
func (m HTTPMessage) SetQuery(query string) error {
	return m.Invoke("set_query", query)
}

// SetURI rewrites the URI of a request message.
func (m HTTPMessage) SetURI(uri string) error {
	return m.Invoke("set_uri", uri)
}

package httputil

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"time"
)

const (
	defaultTimeout = 60 * time.Second
)

// StatusError occurs when a request sent with Send returns a response whose
// code is not in the accepted set.
type StatusError struct {
	Method       string
	URL          string
	Status       int
	ResponseDump string
}

func (e StatusError) Error() string {
	return fmt.Sprintf(
		"request %s %s failed with status %d: %s",
		e.Method, e.URL, e.Status, e.ResponseDump)
}

// IsStatus returns whether err is a StatusError with the given status.
func IsStatus(err error, status int) bool {
	statusErr, ok := err.(StatusError)
	return ok && statusErr.Status == status
}

// IsNotFound returns whether err is a 404 StatusError.
func IsNotFound(err error) bool {
	return IsStatus(err, http.StatusNotFound)
}

type sendOptions struct {
	body          io.Reader
	timeout       time.Duration
	acceptedCodes map[int]struct{}
	headers       map[string]string
}

// defaultSendOptions creates httpOptions with default settings
func defaultSendOptions() sendOptions {
	return sendOptions{
		body:          bytes.NewReader([]byte{}),
		timeout:       defaultTimeout,
		acceptedCodes: map[int]struct{}{http.StatusOK: {}},
		headers:       map[string]string{},
	}
}

// SendOption specifies options for http request
// it overwrites the default value in httpOptions
type SendOption struct {
	f func(*sendOptions)
}

// SendBody specifies a body for http request
func SendBody(body io.Reader) SendOption {
	return SendOption{func(opts *sendOptions) {
		opts.body = body
	}}
}

// SendTimeout specifies timeout for http request
func SendTimeout(t time.Duration) SendOption {
	return SendOption{func(opts *sendOptions) {
		opts.timeout = t
	}}
}

// SendHeaders specifies headers for http request
func SendHeaders(headers map[string]string) SendOption {
	return SendOption{func(opts *sendOptions) {
		opts.headers = headers
	}}
}

// SendAcceptedCodes specifies accepted codes for http request
func SendAcceptedCodes(codes []int) SendOption {
	m := make(map[int]struct{})
	for _, c := range codes {
		m[c] = struct{}{}
	}
	return SendOption{func(opts *sendOptions) {
		opts.acceptedCodes = m
	}}
}

// Send sends http request
func Send(method, endpoint string, options ...SendOption) (*http.Response, error) {
	opts := defaultSendOptions()
	for _, opt := range options {
		opt.f(&opts)
	}

	req, err := http.NewRequest(method, endpoint, opts.body)
	if err != nil {
		return nil, err
	}

	for key, val := range opts.headers {
		req.Header.Set(key, val)
	}

	client := http.Client{
		Timeout: opts.timeout,
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	_, ok := opts.acceptedCodes[resp.StatusCode]
	if !ok {
		defer resp.Body.Close()
		respDump, err := httputil.DumpResponse(resp, true)
		if err != nil {
			respDump = []byte(fmt.Sprintf("failed to dump response: %s", err))
		}
		return nil, StatusError{
			Method:       method,
			URL:          endpoint,
			Status:       resp.StatusCode,
			ResponseDump: string(respDump),
		}
	}

	return resp, nil
}

// Get sends a GET http request.
func Get(url string, options ...SendOption) (*http.Response, error) {
	return Send("GET", url, options...)
}

// Post sends a POST http request.
func Post(url string, options ...SendOption) (*http.Response, error) {
	return Send("POST", url, options...)
}

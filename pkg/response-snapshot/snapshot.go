// Package snapshot converts HTTP responses to and from the wire format
// they are stored in.
package snapshot

import (
	"bufio"
	"bytes"
	"fmt"
	"net/http"
)

// BytesToResponse converts a stored byte slice back to a http.Response.
func BytesToResponse(b []byte) (*http.Response, error) {
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), nil)
}

// ResponseToBytes converts a response to a byte slice.
// It returns the HTTP/1.1 representation of the response. The response
// body is replaced with a fresh reader so it can still be read afterwards.
func ResponseToBytes(res *http.Response) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := res.Write(buf); err != nil {
		return nil, err
	}
	bts := buf.Bytes()
	clonedRes, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(bts)), res.Request)
	if err != nil {
		return nil, err
	}
	res.Body = clonedRes.Body
	return bts, nil
}

// Recorder is an http.ResponseWriter that records the response in the
// stored wire format. If an underlying ResponseWriter is given, all
// writes are forwarded to it as well.
type Recorder struct {
	rw         http.ResponseWriter
	buf        *bytes.Buffer
	header     http.Header
	statusCode int
}

// NewRecorder creates a Recorder. A nil underlying writer records only.
func NewRecorder(rw http.ResponseWriter) *Recorder {
	return &Recorder{
		rw:     rw,
		buf:    &bytes.Buffer{},
		header: make(http.Header),
	}
}

func (r *Recorder) Header() http.Header {
	if r.rw != nil {
		return r.rw.Header()
	}
	return r.header
}

func (r *Recorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	fmt.Fprintf(r.buf, "HTTP/1.1 %d %s\n", statusCode, http.StatusText(statusCode))
	r.Header().Write(r.buf)
	r.buf.WriteString("\n")
	if r.rw != nil {
		r.rw.WriteHeader(statusCode)
	}
}

func (r *Recorder) Write(b []byte) (int, error) {
	if r.statusCode == 0 {
		r.WriteHeader(http.StatusOK)
	}
	if r.rw != nil {
		if _, err := r.rw.Write(b); err != nil {
			return 0, err
		}
	}
	return r.buf.Write(b)
}

// StatusCode returns the recorded status code, or zero if no response
// was written yet.
func (r *Recorder) StatusCode() int {
	return r.statusCode
}

// Bytes returns the recorded response in stored wire format. A handler
// that wrote nothing is recorded as an empty 200 response.
func (r *Recorder) Bytes() []byte {
	if r.statusCode == 0 {
		r.WriteHeader(http.StatusOK)
	}
	return r.buf.Bytes()
}

// Result parses the recorded response.
func (r *Recorder) Result() (*http.Response, error) {
	return BytesToResponse(r.Bytes())
}

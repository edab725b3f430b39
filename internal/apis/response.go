package apis

import "net/http"

// Response is the neutral response produced by a bundle handler.
type Response struct {
	// Status defaults to 200 when left zero.
	Status int
	// Headers are appended to the response, never replacing what the
	// server already set.
	Headers map[string][]string
	// Body is written verbatim.
	Body []byte
	// ContentType, when set, becomes the Content-Type header.
	ContentType string
}

// Write renders the response onto w. For HEAD requests the headers and
// status are written as usual but the body and content type are
// suppressed, mirroring what the matching GET would have produced.
func (resp *Response) Write(w http.ResponseWriter, head bool) {
	for name, values := range resp.Headers {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}

	if !head && resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	if !head && len(resp.Body) > 0 {
		w.Write(resp.Body)
	}
}

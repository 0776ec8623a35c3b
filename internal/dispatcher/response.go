package dispatcher

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

// Response is the body and metadata of a completed request.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Proxy      string
}

// OK reports a 2xx response.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices
}

// ContentType returns the Content-Type header, if any.
func (r *Response) ContentType() string {
	if r == nil || r.Headers == nil {
		return ""
	}
	return r.Headers.Get("Content-Type")
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode json from %s: %w", r.URL, err)
	}
	return nil
}

// Document parses the body as HTML, decoding legacy encodings such as EUC-KR to UTF-8.
func (r *Response) Document() (*goquery.Document, error) {
	reader, err := charset.NewReader(bytes.NewReader(r.Body), r.ContentType())
	if err != nil {
		return nil, fmt.Errorf("detect charset for %s: %w", r.URL, err)
	}
	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return nil, fmt.Errorf("parse html from %s: %w", r.URL, err)
	}
	return doc, nil
}

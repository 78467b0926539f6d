package handlers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/reelhaven/reelhaven/pkg/session"
)

// contentRange is a parsed Content-Range request header.
type contentRange struct {
	// probe is set for the "bytes */*" form.
	probe bool

	start int64
	end   int64

	// total is the declared file size, or -1 for "bytes start-end/*".
	total int64
}

// parseContentRange parses the two accepted forms:
//
//	Content-Range: bytes */*
//	Content-Range: bytes <start>-<end>/<total|*>
func parseContentRange(header string) (contentRange, error) {
	var cr contentRange

	if header == "" {
		return cr, errors.New("Content-Range header is required")
	}

	rest, ok := strings.CutPrefix(header, "bytes ")
	if !ok {
		return cr, fmt.Errorf("malformed Content-Range %q: must start with \"bytes \"", header)
	}

	if rest == "*/*" {
		cr.probe = true
		return cr, nil
	}

	span, totalStr, ok := strings.Cut(rest, "/")
	if !ok {
		return cr, fmt.Errorf("malformed Content-Range %q: missing total", header)
	}

	startStr, endStr, ok := strings.Cut(span, "-")
	if !ok {
		return cr, fmt.Errorf("malformed Content-Range %q: missing byte span", header)
	}

	var err error
	if cr.start, err = strconv.ParseInt(startStr, 10, 64); err != nil || cr.start < 0 {
		return cr, fmt.Errorf("malformed Content-Range %q: bad start", header)
	}
	if cr.end, err = strconv.ParseInt(endStr, 10, 64); err != nil || cr.end < cr.start {
		return cr, fmt.Errorf("malformed Content-Range %q: bad end", header)
	}

	if totalStr == "*" {
		cr.total = -1
		return cr, nil
	}
	if cr.total, err = strconv.ParseInt(totalStr, 10, 64); err != nil || cr.total <= cr.end {
		return cr, fmt.Errorf("malformed Content-Range %q: bad total", header)
	}
	return cr, nil
}

// parseFingerprint parses the "filename:size:lastModifiedMs" header value.
// The filename may itself contain colons, so the numbers are taken from the
// right. An empty header means no fingerprint was sent.
func parseFingerprint(header string) (*session.Fingerprint, error) {
	if header == "" {
		return nil, nil
	}

	last := strings.LastIndexByte(header, ':')
	if last <= 0 {
		return nil, fmt.Errorf("malformed %s header", HeaderFingerprint)
	}
	mid := strings.LastIndexByte(header[:last], ':')
	if mid <= 0 {
		return nil, fmt.Errorf("malformed %s header", HeaderFingerprint)
	}

	size, err := strconv.ParseInt(header[mid+1:last], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed %s size", HeaderFingerprint)
	}
	mtime, err := strconv.ParseInt(header[last+1:], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed %s mtime", HeaderFingerprint)
	}

	return &session.Fingerprint{
		Filename:     header[:mid],
		Size:         size,
		LastModified: mtime,
	}, nil
}

package s3

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/reelhaven/reelhaven/pkg/blob"
)

// partsReader streams a byte range across consecutive part objects, fetching
// each part lazily as the previous one is drained.
type partsReader struct {
	ctx   context.Context
	store *Store
	parts []partInfo

	offset int64 // next byte to deliver
	end    int64 // exclusive end of the requested range

	body io.ReadCloser // open body for the current part, nil between parts
}

func (r *partsReader) Read(p []byte) (int, error) {
	if r.offset >= r.end {
		return 0, io.EOF
	}

	if r.body == nil {
		if err := r.openNext(); err != nil {
			return 0, err
		}
	}

	if remaining := r.end - r.offset; int64(len(p)) > remaining {
		p = p[:remaining]
	}

	n, err := r.body.Read(p)
	r.offset += int64(n)

	if err == io.EOF {
		r.body.Close()
		r.body = nil
		if r.offset < r.end {
			err = nil // next Read opens the following part
		}
	}
	return n, err
}

// openNext opens the part containing r.offset, range-requesting into it when
// the read starts mid-part.
func (r *partsReader) openNext() error {
	var part *partInfo
	for i := range r.parts {
		if r.offset >= r.parts[i].start && r.offset < r.parts[i].start+r.parts[i].size {
			part = &r.parts[i]
			break
		}
	}
	if part == nil {
		return fmt.Errorf("no part covers offset %d", r.offset)
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(r.store.bucket),
		Key:    aws.String(part.key),
	}
	if skip := r.offset - part.start; skip > 0 {
		input.Range = aws.String(fmt.Sprintf("bytes=%d-", skip))
	}

	out, err := r.store.client.GetObject(r.ctx, input)
	if err != nil {
		return blob.MarkTransient(fmt.Errorf("failed to read part %s: %w", part.key, err))
	}
	r.body = out.Body
	return nil
}

func (r *partsReader) Close() error {
	if r.body != nil {
		err := r.body.Close()
		r.body = nil
		return err
	}
	return nil
}

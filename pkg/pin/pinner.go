package pin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/reelhaven/reelhaven/internal/logger"
)

// Pinner archives an artifact directory into the CAS and verifies the
// stored bytes hash back to their address before reporting success.
type Pinner struct {
	store      Store
	verify     bool
	maxRetries int
	backoff    time.Duration
}

// PinnerConfig configures a Pinner.
type PinnerConfig struct {
	// Verify re-reads pinned content and checks its hash (default: true
	// when constructed via NewPinner with Verify set).
	Verify bool

	// MaxRetries is the number of retry attempts for transient failures
	// (default: 3).
	MaxRetries int

	// InitialBackoff is the delay before the first retry, doubled each
	// attempt (default: 1s).
	InitialBackoff time.Duration
}

// NewPinner creates a pinner over the store.
func NewPinner(store Store, cfg PinnerConfig) *Pinner {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	return &Pinner{
		store:      store,
		verify:     cfg.Verify,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.InitialBackoff,
	}
}

// Result reports a completed pin.
type Result struct {
	Address Address
	Size    int64
}

// PinDirectory archives dir and pins the archive. The openArchive callback
// regenerates the stream for each attempt since a consumed reader cannot be
// retried; the deterministic archive guarantees every attempt produces the
// same address.
func (p *Pinner) PinDirectory(ctx context.Context, uploadID, dir string) (*Result, error) {
	return p.pinWithRetry(ctx, uploadID, func() (io.ReadCloser, error) {
		pr, pw := io.Pipe()
		go func() {
			pw.CloseWithError(WriteArchive(dir, pw))
		}()
		return pr, nil
	})
}

func (p *Pinner) pinWithRetry(ctx context.Context, uploadID string, openArchive func() (io.ReadCloser, error)) (*Result, error) {
	backoff := p.backoff
	var lastErr error

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			logger.Warn("retrying pin",
				logger.UploadID(uploadID),
				logger.Attempt(attempt),
				logger.Err(lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		res, err := p.pinOnce(ctx, openArchive)
		if err == nil {
			logger.Info("artifacts pinned",
				logger.UploadID(uploadID),
				logger.CID(res.Address.String()),
				"size", res.Size)
			return res, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("pin failed after %d attempts: %w", p.maxRetries+1, lastErr)
}

func (p *Pinner) pinOnce(ctx context.Context, openArchive func() (io.ReadCloser, error)) (*Result, error) {
	rc, err := openArchive()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	addr, size, err := p.store.Put(ctx, rc)
	if err != nil {
		return nil, err
	}

	if p.verify {
		verifiedSize, err := verifyAddress(ctx, p.store, addr)
		if err != nil {
			return nil, err
		}
		if verifiedSize != size {
			return nil, fmt.Errorf("%w: size %d stored, %d read back", ErrPinMismatch, size, verifiedSize)
		}
	}

	return &Result{Address: addr, Size: size}, nil
}

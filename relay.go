package proxycore

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// RelayStats is a cloneable handle of two monotonic byte counters, shared
// between a running relay and whatever external observer wants to read
// them (Tracker, an API layer) without racing the copy loops.
type RelayStats struct {
	uploaded   atomic.Int64
	downloaded atomic.Int64
}

func (s *RelayStats) Uploaded() int64   { return s.uploaded.Load() }
func (s *RelayStats) Downloaded() int64 { return s.downloaded.Load() }

// halfCloser is implemented by net.Conn types that support shutting down
// only their write side (TCP, and most stream-oriented wrappers used by
// the outbounds in this core).
type halfCloser interface {
	CloseWrite() error
}

// RelayOptions configures relay().
type RelayOptions struct {
	// IdleTimeout aborts the relay if neither direction makes progress
	// within this window. Zero disables the idle timer.
	IdleTimeout time.Duration
	// Stats, when non-nil, is updated in place and is itself the RelayStats
	// relay returns (it may be the same pointer handed back by Tracker).
	Stats *RelayStats
	// BufferSizeHint selects which BufferPool tier each direction's copy
	// loop draws from; zero value uses the pool's default tier.
	BufferSizeHint int
}

// relay runs two concurrent unidirectional copies between a and b until
// both directions reach clean EOF, the idle timer expires, or ctx is
// cancelled. It implements spec §4.5's bidirectional copy engine:
// pool-acquired buffers, half-close on EOF, idle-timer reset on any
// progress, first-error-wins termination.
func relay(ctx context.Context, a, b net.Conn, pool *BufferPool, opt RelayOptions) (*RelayStats, error) {
	stats := opt.Stats
	if stats == nil {
		stats = &RelayStats{}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var idle *time.Timer
	var idleCh <-chan time.Time
	if opt.IdleTimeout > 0 {
		idle = time.NewTimer(opt.IdleTimeout)
		idleCh = idle.C
		defer idle.Stop()
	}

	progress := make(chan struct{}, 2)
	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		errCh <- copyDirection(ctx, a, b, pool, opt.BufferSizeHint, &stats.uploaded, progress)
	}()
	go func() {
		defer wg.Done()
		errCh <- copyDirection(ctx, b, a, pool, opt.BufferSizeHint, &stats.downloaded, progress)
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var first error
	for {
		select {
		case <-done:
			// Drain whatever results the errCh case has not consumed yet;
			// PeerClosed is not an error.
			for len(errCh) > 0 {
				if err := <-errCh; err != nil && !isPeerClosed(err) && first == nil {
					first = err
				}
			}
			return stats, first
		case err := <-errCh:
			if err != nil && !isPeerClosed(err) && first == nil {
				first = err
				cancel()
			}
		case <-progress:
			if idle != nil {
				if !idle.Stop() {
					select {
					case <-idle.C:
					default:
					}
				}
				idle.Reset(opt.IdleTimeout)
			}
		case <-idleCh:
			cancel()
			_ = a.Close()
			_ = b.Close()
			<-done
			return stats, &RelayError{Kind: RelayIdleTimeout}
		case <-ctx.Done():
			_ = a.Close()
			_ = b.Close()
			<-done
			if first != nil {
				return stats, first
			}
			return stats, nil
		}
	}
}

func isPeerClosed(err error) bool {
	re, ok := err.(*RelayError)
	return ok && re.Kind == RelayPeerClosed
}

// copyDirection reads from src and writes to dst using a pool-acquired
// buffer, returning the buffer on every exit path, until clean EOF (which
// half-closes dst's write side) or a read/write error, or ctx cancellation.
func copyDirection(ctx context.Context, src io.Reader, dst net.Conn, pool *BufferPool, sizeHint int, counter *atomic.Int64, progress chan<- struct{}) error {
	buf := getBuf(pool, sizeHint)
	defer pool.Put(buf)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return &RelayError{Kind: RelayWriteError, Err: werr}
			}
			counter.Add(int64(n))
			select {
			case progress <- struct{}{}:
			default:
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				if hc, ok := dst.(halfCloser); ok {
					_ = hc.CloseWrite()
				}
				return &RelayError{Kind: RelayPeerClosed}
			}
			return &RelayError{Kind: RelayReadError, Err: rerr}
		}
	}
}

func getBuf(pool *BufferPool, sizeHint int) []byte {
	switch {
	case sizeHint > 0 && sizeHint <= SmallBufferSize:
		return pool.GetSmall()
	case sizeHint > DefaultBufferSize:
		return pool.GetLarge()
	default:
		return pool.Get()
	}
}

// Relay is the exported entry point wrapping relay() with the BufferPool
// that's shared process-wide.
func Relay(ctx context.Context, a, b net.Conn, pool *BufferPool, opt RelayOptions) (*RelayStats, error) {
	return relay(ctx, a, b, pool, opt)
}

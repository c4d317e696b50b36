package proxycore

import "sync/atomic"

// MuxBackpressure is a windowed flow-control counter: on_data_received
// increases in-flight bytes, on_data_consumed decreases it (saturating at
// zero), and is_paused reports whether in-flight has reached the window.
// The controller never blocks by itself; schedulers poll IsPaused and stop
// reading from upstream while paused. Grounded on the credit-window
// bookkeeping xtaci/smux keeps per-stream (bytes read vs. bytes the peer
// has acknowledged via window update), reduced here to the single counter
// pair a windowed flow-control contract calls for.
type MuxBackpressure struct {
	window   int64
	inFlight atomic.Int64
}

// NewMuxBackpressure returns a controller with the given window size in
// bytes.
func NewMuxBackpressure(window int64) *MuxBackpressure {
	return &MuxBackpressure{window: window}
}

// OnDataReceived records n more in-flight bytes.
func (b *MuxBackpressure) OnDataReceived(n int64) {
	b.inFlight.Add(n)
}

// OnDataConsumed records n fewer in-flight bytes, saturating at zero so a
// racing consumed-before-received ordering can never go negative.
func (b *MuxBackpressure) OnDataConsumed(n int64) {
	for {
		cur := b.inFlight.Load()
		next := cur - n
		if next < 0 {
			next = 0
		}
		if b.inFlight.CompareAndSwap(cur, next) {
			return
		}
	}
}

// IsPaused reports whether in-flight bytes have reached the window.
func (b *MuxBackpressure) IsPaused() bool {
	return b.inFlight.Load() >= b.window
}

// InFlight returns the current in-flight byte count, mostly for tests and
// diagnostics.
func (b *MuxBackpressure) InFlight() int64 {
	return b.inFlight.Load()
}

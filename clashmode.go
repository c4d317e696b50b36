package proxycore

import "sync/atomic"

// ClashMode is a process-wide atomic switch consulted by the Router before
// rule evaluation. Reads are lock-free; writes are last-writer-wins with no
// ordering guarantee against in-flight route decisions. Mirrors an
// atomic-byte-backed mode switch, expressed here as an atomic.Int32 since
// Go has no native atomic byte.
type ClashMode int32

const (
	ClashModeRule ClashMode = iota
	ClashModeGlobal
	ClashModeDirect
)

func (m ClashMode) String() string {
	switch m {
	case ClashModeRule:
		return "rule"
	case ClashModeGlobal:
		return "global"
	case ClashModeDirect:
		return "direct"
	default:
		return "unknown"
	}
}

// ClashModeSwitch holds the current ClashMode behind an atomic word.
type ClashModeSwitch struct {
	v atomic.Int32
}

// NewClashModeSwitch returns a switch defaulting to Rule mode.
func NewClashModeSwitch() *ClashModeSwitch {
	s := &ClashModeSwitch{}
	s.v.Store(int32(ClashModeRule))
	return s
}

// Get reads the current mode.
func (s *ClashModeSwitch) Get() ClashMode {
	return ClashMode(s.v.Load())
}

// Set installs a new mode, last-writer-wins.
func (s *ClashModeSwitch) Set(m ClashMode) {
	s.v.Store(int32(m))
}

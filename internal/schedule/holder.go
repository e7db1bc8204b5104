package schedule

import "sync/atomic"

// Holder publishes the current policy to readers and lets the config watcher swap it.
type Holder struct {
	v atomic.Pointer[Policy]
}

// NewHolder returns a holder initialised with p.
func NewHolder(p Policy) *Holder {
	h := &Holder{}
	h.Set(p)
	return h
}

// Current returns the active policy.
func (h *Holder) Current() Policy {
	if p := h.v.Load(); p != nil {
		return *p
	}
	return DefaultPolicy()
}

// Set replaces the active policy.
func (h *Holder) Set(p Policy) {
	h.v.Store(&p)
}

package lexicon

import (
	"log/slog"
	"sync/atomic"
)

// Source yields the catalog to use for the next resolution. Both [*Catalog]
// and [*Holder] implement it.
type Source interface {
	Current() *Catalog
}

// Holder publishes the active catalog to concurrent readers and lets the
// config watcher replace it without locking the combat path.
type Holder struct {
	cur atomic.Pointer[Catalog]
}

var (
	_ Source = (*Holder)(nil)
	_ Source = (*Catalog)(nil)
)

// NewHolder returns a holder serving c.
func NewHolder(c *Catalog) *Holder {
	h := &Holder{}
	h.cur.Store(c)
	return h
}

// Current implements [Source].
func (h *Holder) Current() *Catalog { return h.cur.Load() }

// Swap installs c and returns the previous catalog. A nil c is ignored.
func (h *Holder) Swap(c *Catalog) *Catalog {
	if c == nil {
		return h.cur.Load()
	}
	prev := h.cur.Swap(c)
	prevVersion := ""
	if prev != nil {
		prevVersion = prev.Version()
	}
	slog.Info("keyword catalog swapped", "from", prevVersion, "to", c.Version())
	return prev
}

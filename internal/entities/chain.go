package entities

import (
	"encoding/json"
	"fmt"
	"iter"
	"strconv"

	"github.com/cespare/xxhash"
)

// Chain is an ordered sequence of changes anchored at a schema version.
// The link between a change and its successor is its position: change i is
// followed by change i+1. A chain therefore cannot contain cycles.
type Chain struct {
	changes []*Change
}

// NewChain creates a chain from changes in order
func NewChain(changes ...*Change) *Chain {
	c := &Chain{}
	for _, ch := range changes {
		c.Append(ch)
	}
	return c
}

// Append attaches a change at the tail and assigns its sequence number
func (c *Chain) Append(ch *Change) {
	ch.Seq = len(c.changes)
	c.changes = append(c.changes, ch)
}

// Len returns the number of changes
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.changes)
}

// At returns the change at position i
func (c *Chain) At(i int) *Change {
	return c.changes[i]
}

// All yields the changes head to tail. The sequence can be ranged over any
// number of times.
func (c *Chain) All() iter.Seq2[int, *Change] {
	return func(yield func(int, *Change) bool) {
		if c == nil {
			return
		}
		for i, ch := range c.changes {
			if !yield(i, ch) {
				return
			}
		}
	}
}

// Records returns the language neutral representation of all changes
func (c *Chain) Records() []ChangeRecord {
	recs := make([]ChangeRecord, 0, c.Len())
	for _, ch := range c.All() {
		recs = append(recs, ch.Record())
	}
	return recs
}

// ChainFromRecords parses records into a chain
func ChainFromRecords(recs []ChangeRecord) (*Chain, error) {
	c := &Chain{}
	for i, rec := range recs {
		ch, err := rec.Change()
		if err != nil {
			return nil, fmt.Errorf("change #%d: %w", i, err)
		}
		c.Append(ch)
	}
	return c, nil
}

// Checksum fingerprints the chain content. Two chains with the same changes in
// the same order have the same checksum.
func (c *Chain) Checksum() string {
	h := xxhash.New()
	for i, rec := range c.Records() {
		// encoding/json sorts map keys, so the encoding is canonical
		data, err := json.Marshal(rec)
		if err != nil {
			data = []byte(fmt.Sprintf("%d:%v", i, rec))
		}
		h.Write(data)
		h.Write([]byte{'\n'})
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// MarshalJSON encodes the chain as a list of change records
func (c *Chain) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Records())
}

// UnmarshalJSON decodes a list of change records
func (c *Chain) UnmarshalJSON(data []byte) error {
	var recs []ChangeRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return err
	}
	parsed, err := ChainFromRecords(recs)
	if err != nil {
		return err
	}
	*c = *parsed
	return nil
}

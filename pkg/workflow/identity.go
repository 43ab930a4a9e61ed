package workflow

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/dagframe/dagframe/pkg/dataframe"
)

// hasher builds a content identity. Every field is length prefixed so that
// adjacent fields can't run into each other.
type hasher struct {
	d *xxhash.Digest
}

func newHasher() *hasher { return &hasher{d: xxhash.New()} }

func (h *hasher) str(s string) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(len(s)))
	_, _ = h.d.Write(buf[:])
	_, _ = h.d.WriteString(s)
}

func (h *hasher) bool(b bool) { h.str(strconv.FormatBool(b)) }

func (h *hasher) int(n int) { h.str(strconv.Itoa(n)) }

// strings hashes an ordered list.
func (h *hasher) strings(ss []string) {
	h.int(len(ss))
	for _, s := range ss {
		h.str(s)
	}
}

// metadata hashes m independently of insertion order.
func (h *hasher) metadata(m dataframe.Metadata) {
	keys := m.Keys()
	h.int(len(keys))
	for _, k := range keys {
		h.str(k)
		h.str(fmt.Sprintf("%T:%v", m[k], m[k]))
	}
}

func (h *hasher) sum() string { return fmt.Sprintf("%016x", h.d.Sum64()) }

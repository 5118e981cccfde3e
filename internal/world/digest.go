package world

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Digest is a hash of the replicated plan state.
type Digest [32]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// Digest hashes everything every replica must agree on: the clock, plan
// ids, owners, creation dates, shared visibility and line tiles. Per-viewer
// display state (visible, focused, scratch lines) is left out because it
// legitimately differs between replicas.
func (s *State) Digest() Digest {
	h := blake3.New()
	var tmp [8]byte

	binary.LittleEndian.PutUint64(tmp[:], s.Clock.Tick())
	h.Write(tmp[:8])
	binary.LittleEndian.PutUint32(tmp[:], uint32(s.Plans.Len()))
	h.Write(tmp[:4])

	for id, p := range s.Plans.All() {
		binary.LittleEndian.PutUint32(tmp[:], uint32(id))
		tmp[4] = byte(p.Owner)
		tmp[5] = boolByte(p.VisibleByAll)
		h.Write(tmp[:6])
		binary.LittleEndian.PutUint32(tmp[:], uint32(p.CreationDate))
		binary.LittleEndian.PutUint32(tmp[4:], uint32(len(p.Lines)))
		h.Write(tmp[:8])
		for _, l := range p.Lines {
			binary.LittleEndian.PutUint32(tmp[:], uint32(len(l.Tiles)))
			h.Write(tmp[:4])
			h.Write(l.Export())
		}
	}

	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

package net

import "sort"

// SessionStore tracks live sessions. Game loop only.
type SessionStore struct {
	byID map[uint64]*Session
	ids  []uint64 // ascending, for a stable iteration order
}

func NewSessionStore() *SessionStore {
	return &SessionStore{byID: make(map[uint64]*Session)}
}

func (st *SessionStore) Add(s *Session) {
	if _, ok := st.byID[s.ID]; ok {
		return
	}
	st.byID[s.ID] = s
	i := sort.Search(len(st.ids), func(i int) bool { return st.ids[i] >= s.ID })
	st.ids = append(st.ids, 0)
	copy(st.ids[i+1:], st.ids[i:])
	st.ids[i] = s.ID
}

func (st *SessionStore) Remove(id uint64) {
	if _, ok := st.byID[id]; !ok {
		return
	}
	delete(st.byID, id)
	i := sort.Search(len(st.ids), func(i int) bool { return st.ids[i] >= id })
	st.ids = append(st.ids[:i], st.ids[i+1:]...)
}

func (st *SessionStore) Get(id uint64) *Session {
	return st.byID[id]
}

func (st *SessionStore) Count() int {
	return len(st.ids)
}

// ForEach visits sessions in ascending ID order. fn may remove the
// visited session.
func (st *SessionStore) ForEach(fn func(*Session)) {
	ids := append([]uint64(nil), st.ids...)
	for _, id := range ids {
		if s, ok := st.byID[id]; ok {
			fn(s)
		}
	}
}

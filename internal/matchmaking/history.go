package matchmaking

type userPair struct {
	lo, hi string
}

func newUserPair(a, b string) userPair {
	if b < a {
		a, b = b, a
	}
	return userPair{lo: a, hi: b}
}

// pairingHistory records which users have shared a room. It is append-only and
// symmetric. Matching does not consult it today.
type pairingHistory struct {
	pairs map[userPair]struct{}
}

func newPairingHistory() *pairingHistory {
	return &pairingHistory{pairs: make(map[userPair]struct{})}
}

func (h *pairingHistory) record(a, b string) {
	h.pairs[newUserPair(a, b)] = struct{}{}
}

func (h *pairingHistory) has(a, b string) bool {
	_, ok := h.pairs[newUserPair(a, b)]
	return ok
}

func (h *pairingHistory) len() int { return len(h.pairs) }

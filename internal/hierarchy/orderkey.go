package hierarchy

import (
	"fmt"
	"strings"
)

// Order keys are lexicographic fractional ranks over a base-36 alphabet.
// A key is read as a fraction in (0, 1); sorting keys as plain strings
// sorts siblings. Inserting between two keys extends the shorter one, so
// an insert never renumbers the whole sibling list. Keys that grow past
// renumberKeyLen trigger a one-off renumber of the sibling list, keeping
// inserts amortized O(1).

const rankAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

const rankBase = len(rankAlphabet)

// renumberKeyLen bounds key growth before the owning sibling list is
// renumbered with evenly spaced keys.
const renumberKeyLen = 24

func rankDigit(c byte) int {
	return strings.IndexByte(rankAlphabet, c)
}

func digitAt(key string, i int) int {
	if i >= len(key) {
		return 0
	}
	return rankDigit(key[i])
}

// RankInitial returns the key for the first node in an empty sibling list.
func RankInitial() string {
	return string(rankAlphabet[rankBase/2])
}

// RankBetween returns a key sorting strictly between lo and hi. An empty lo
// means the low end is open; an empty hi means the high end is open.
// Returns an error if lo does not sort strictly before hi.
func RankBetween(lo, hi string) (string, error) {
	if lo == "" && hi == "" {
		return RankInitial(), nil
	}
	if lo != "" && hi != "" && lo >= hi {
		return "", fmt.Errorf("hierarchy: no rank between %q and %q", lo, hi)
	}
	if hi != "" && strings.Trim(hi, "0") == "" {
		// Nothing sorts before a key of all zeros.
		return "", fmt.Errorf("hierarchy: no rank before %q", hi)
	}

	var b strings.Builder
	for i := 0; ; i++ {
		l := digitAt(lo, i)
		h := rankBase
		if hi != "" {
			h = digitAt(hi, i)
		}
		if l == h {
			if i >= len(lo) && i >= len(hi) {
				// hi is lo extended with zeros; both encode the same
				// fraction, so nothing sorts between them.
				return "", fmt.Errorf("hierarchy: no rank between %q and %q", lo, hi)
			}
			b.WriteByte(rankAlphabet[l])
			continue
		}
		if h-l >= 2 {
			b.WriteByte(rankAlphabet[(l+h)/2])
			return b.String(), nil
		}
		// Adjacent digits: keep lo's digit and find a suffix that sorts
		// after the rest of lo.
		b.WriteByte(rankAlphabet[l])
		for j := i + 1; ; j++ {
			d := digitAt(lo, j)
			if d == rankBase-1 {
				b.WriteByte(rankAlphabet[d])
				continue
			}
			b.WriteByte(rankAlphabet[(d+rankBase)/2])
			return b.String(), nil
		}
	}
}

// RankAfter returns a key sorting after every existing key, given the
// current maximum.
func RankAfter(maxKey string) (string, error) {
	return RankBetween(maxKey, "")
}

// RankBefore returns a key sorting before every existing key, given the
// current minimum.
func RankBefore(minKey string) (string, error) {
	return RankBetween("", minKey)
}

// RankSpread returns n evenly spaced keys in ascending order, used when a
// sibling list is renumbered.
func RankSpread(n int) []string {
	if n <= 0 {
		return nil
	}
	// Smallest width whose keyspace fits n keys with gaps on both sides.
	width := 1
	capacity := rankBase
	for capacity < (n+1)*2 {
		width++
		capacity *= rankBase
	}
	step := capacity / (n + 1)
	keys := make([]string, n)
	for i := range keys {
		keys[i] = encodeRank((i+1)*step, width)
	}
	return keys
}

func encodeRank(v, width int) string {
	buf := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		buf[i] = rankAlphabet[v%rankBase]
		v /= rankBase
	}
	return string(buf)
}

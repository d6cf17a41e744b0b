package lease

import "crypto/rand"

// Locators are the human-facing group codes printed on confirmations and
// typed into support tooling, hence the short uppercase alphabet.
const (
	locatorAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	locatorLength   = 8
)

func newLocator() string {
	b := make([]byte, locatorLength)
	_, _ = rand.Read(b)

	out := make([]byte, locatorLength)
	for i, v := range b {
		out[i] = locatorAlphabet[int(v)%len(locatorAlphabet)]
	}

	return string(out)
}

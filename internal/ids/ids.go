package ids

import (
	"crypto/rand"
	"math/big"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// RoomCode returns a 7-digit shareable code for group rooms.
// The first digit is never zero so codes survive naive numeric handling.
func RoomCode() string {
	const digits = "0123456789"
	buf := make([]byte, 7)
	for i := range buf {
		hi := int64(len(digits))
		if i == 0 {
			hi--
		}
		n, err := rand.Int(rand.Reader, big.NewInt(hi))
		if err != nil {
			panic(err) // crypto/rand failure is unrecoverable
		}
		if i == 0 {
			buf[i] = digits[1+n.Int64()]
		} else {
			buf[i] = digits[n.Int64()]
		}
	}
	return string(buf)
}

// internal/daily/daily.go
//
// Game of the day. Every learner sees the same featured game on a given UTC
// date; the pick is HMAC(salt, YYYY-MM-DD) so it cannot be guessed ahead of
// time without the salt.

package daily

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/robalobadob/skillgames/internal/content"
)

// DateKey returns YYYY-MM-DD in UTC.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Index returns a deterministic index in [0,n) for a date using HMAC(salt, YYYY-MM-DD) % n.
func Index(date time.Time, salt string, n int) int {
	if n <= 0 {
		return 0
	}
	h := hmac.New(sha256.New, []byte(salt))
	h.Write([]byte(DateKey(date)))
	sum := h.Sum(nil)
	// first 8 bytes as uint64 for the modulus
	return int(binary.BigEndian.Uint64(sum[:8]) % uint64(n))
}

// Featured is the game of the day.
type Featured struct {
	Date string       `json:"date"`
	Game content.Game `json:"game"`
}

// Pick chooses today's game from games, which must be in a stable order.
func Pick(now time.Time, salt string, games []content.Game) (Featured, bool) {
	if len(games) == 0 {
		return Featured{}, false
	}
	return Featured{Date: DateKey(now), Game: games[Index(now, salt, len(games))]}, true
}

package session

import (
	"io"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// PlaybackToken identifies one invocation of speak. Tokens minted by the
// same session are strictly increasing. The zero token means no playback.
type PlaybackToken struct {
	id ulid.ULID
}

func (t PlaybackToken) IsZero() bool { return t.id == (ulid.ULID{}) }

func (t PlaybackToken) String() string {
	if t.IsZero() {
		return ""
	}
	return t.id.String()
}

// Compare orders tokens by mint order.
func (t PlaybackToken) Compare(other PlaybackToken) int { return t.id.Compare(other.id) }

// tokenSource mints monotonic tokens. It is not safe for concurrent use;
// the session lock guards it.
type tokenSource struct {
	entropy io.Reader
	last    ulid.ULID
}

func newTokenSource(seed int64) *tokenSource {
	return &tokenSource{entropy: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)}
}

func (s *tokenSource) next(now time.Time) PlaybackToken {
	ms := ulid.Timestamp(now)
	if ms < s.last.Time() {
		// clock stepped back; stay on the last millisecond so order holds
		ms = s.last.Time()
	}
	id, err := ulid.New(ms, s.entropy)
	if err != nil {
		// monotonic entropy overflowed within one millisecond
		id = ulid.MustNew(ms+1, s.entropy)
	}
	s.last = id
	return PlaybackToken{id: id}
}

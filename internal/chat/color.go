package chat

import "fmt"

// NeutralColor is assigned when no username is available.
const NeutralColor = "#ccc"

// ColorOf deterministically derives a display color from a username. The
// hash folds UTF-16 code units into an int32 and masks to 24 bits, so the
// same name yields the same color across restarts and across independently
// running instances with no shared state.
func ColorOf(username string) string {
	if username == "" {
		return NeutralColor
	}

	var hash int32
	for _, r := range username {
		if r > 0xFFFF {
			// Surrogate pair: hash both halves as separate code units.
			r -= 0x10000
			hash = int32(0xD800+(r>>10)) + hash<<5 - hash
			r = 0xDC00 + (r & 0x3FF)
		}
		hash = int32(r) + hash<<5 - hash
	}

	return fmt.Sprintf("#%06X", uint32(hash)&0xFFFFFF)
}

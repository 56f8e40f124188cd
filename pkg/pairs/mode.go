// Copyright 2024-2026 Aiku AI

package pairs

// Direction indexes the two relay directions of a pair.
type Direction int

const (
	OneBotToTelegram Direction = iota
	TelegramToOneBot
)

func (d Direction) String() string {
	if d == OneBotToTelegram {
		return "onebot→telegram"
	}
	return "telegram→onebot"
}

// Mode is a two-flag value indexed by Direction. The wire format is a
// two-character string ("11", "10", "01", "00") where index 0 is the
// OneBot→Telegram flag.
type Mode [2]bool

// ModeBoth has both directions enabled.
var ModeBoth = Mode{true, true}

// ParseMode decodes the wire format. Unknown strings decode as both-enabled
// so a corrupt row never silently mutes a pair.
func ParseMode(s string) Mode {
	if len(s) != 2 {
		return ModeBoth
	}
	return Mode{s[0] == '1', s[1] == '1'}
}

// Enabled reports whether the given direction is switched on.
func (m Mode) Enabled(d Direction) bool {
	return m[d]
}

// With returns a copy of the mode with one direction flag changed.
func (m Mode) With(d Direction, enabled bool) Mode {
	m[d] = enabled
	return m
}

// String encodes the wire format.
func (m Mode) String() string {
	b := [2]byte{'0', '0'}
	for i, on := range m {
		if on {
			b[i] = '1'
		}
	}
	return string(b[:])
}

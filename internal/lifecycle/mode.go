package lifecycle

import "git.home.luguber.info/inful/meterd/internal/foundation/normalization"

// Mode selects which compound verbs are legal. It is fixed per process and
// independent of the manager state.
type Mode string

const (
	ModeNormal   Mode = "normal"
	ModeAdvanced Mode = "advanced"
)

var modes = normalization.NewEnum("mode", map[string]Mode{
	"":                   ModeNormal,
	string(ModeNormal):   ModeNormal,
	string(ModeAdvanced): ModeAdvanced,
}, ModeNormal)

// ParseMode parses a mode name, case-insensitively. Empty means normal.
func ParseMode(s string) (Mode, error) {
	return modes.Parse(s)
}

// Resolve returns the verb handled for the wire verb v. In normal mode START
// and STOP are aliases of NORMAL_START and NORMAL_STOP.
func (m Mode) Resolve(v Verb) Verb {
	if m != ModeNormal {
		return v
	}
	switch v {
	case VerbStart:
		return VerbNormalStart
	case VerbStop:
		return VerbNormalStop
	}
	return v
}

// Allows reports whether v may be handled in mode m. Primitive verbs are
// legal in every mode; the compound pair only in normal mode.
func (m Mode) Allows(v Verb) bool {
	if !v.Known() {
		return false
	}
	if v.Compound() {
		return m == ModeNormal
	}
	return true
}

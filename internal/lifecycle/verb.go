package lifecycle

import (
	"strings"

	"git.home.luguber.info/inful/meterd/internal/protocol"
)

// Verb names an inbound lifecycle command.
type Verb string

const (
	VerbCreate      Verb = "CREATE"
	VerbInit        Verb = "INIT"
	VerbStart       Verb = "START"
	VerbStop        Verb = "STOP"
	VerbReset       Verb = "RESET"
	VerbDestroy     Verb = "DESTROY"
	VerbQuery       Verb = "QUERY"
	VerbNormalStart Verb = "NORMAL_START"
	VerbNormalStop  Verb = "NORMAL_STOP"
)

// Verbs lists every known verb.
var Verbs = []Verb{
	VerbCreate, VerbInit, VerbStart, VerbStop, VerbReset,
	VerbDestroy, VerbQuery, VerbNormalStart, VerbNormalStop,
}

// ParseVerb normalises name, which may be a short verb or a fully qualified
// action. The result is not validated; see Known.
func ParseVerb(name string) Verb {
	return Verb(strings.ToUpper(protocol.ShortAction(name)))
}

// Known reports whether v is one of the defined verbs.
func (v Verb) Known() bool {
	switch v {
	case VerbCreate, VerbInit, VerbStart, VerbStop, VerbReset,
		VerbDestroy, VerbQuery, VerbNormalStart, VerbNormalStop:
		return true
	}
	return false
}

// Compound reports whether v sequences several manager calls under one name.
func (v Verb) Compound() bool {
	return v == VerbNormalStart || v == VerbNormalStop
}

// NeedsConfig reports whether v requires a config document.
func (v Verb) NeedsConfig() bool {
	return v == VerbCreate || v == VerbReset
}

// Action returns the fully qualified action name.
func (v Verb) Action() string { return protocol.Action(string(v)) }

func (v Verb) String() string { return string(v) }

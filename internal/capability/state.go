package capability

import (
	"fmt"
	"strings"
)

// State is the manager lifecycle stage. It is never stored: Derive computes
// it from the manager's query flags every time it is needed.
type State int

const (
	Missing State = iota
	Created
	Initialised
	Running
)

var stateNames = [...]string{"MISSING", "CREATED", "INITIALISED", "RUNNING"}

func (s State) String() string {
	if s < Missing || s > Running {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText renders the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name, case-insensitively.
func (s *State) UnmarshalText(b []byte) error {
	parsed, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState parses a state name.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return State(i), nil
		}
	}
	return Missing, fmt.Errorf("unknown manager state %q", name)
}

// Derive computes the state from q. A missing object short-circuits: the
// other two flags are not consulted.
func Derive(q Querier) State {
	if !q.Exists() {
		return Missing
	}
	if !q.IsInitialised() {
		return Created
	}
	if !q.IsStarted() {
		return Initialised
	}
	return Running
}

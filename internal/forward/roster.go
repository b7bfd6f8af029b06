package forward

import (
	"fmt"

	ferrors "git.home.luguber.info/inful/meterd/internal/foundation/errors"
	"git.home.luguber.info/inful/meterd/internal/protocol"
)

// ExpandRoster builds one message with the given action for every entry of
// the roster list stored under the apps array key. Malformed entries yield an
// AddressError each and are skipped; the rest of the batch still goes out.
// The roster key is read, not consumed.
func ExpandRoster(payload *Payload, action string) ([]Message, []error) {
	v, ok := payload.Get(protocol.KeyAppsArray)
	if !ok || v == nil {
		return nil, nil
	}

	var entries []any
	switch list := v.(type) {
	case []any:
		entries = list
	case []string:
		entries = make([]any, len(list))
		for i, s := range list {
			entries[i] = s
		}
	default:
		return nil, []error{ferrors.ValidationError("roster must be a list of strings").
			WithContext("key", protocol.KeyAppsArray).
			WithContext("type", fmt.Sprintf("%T", v)).Build()}
	}

	var (
		msgs []Message
		errs []error
	)
	for i, e := range entries {
		s, isString := e.(string)
		if !isString {
			errs = append(errs, ferrors.AddressError("roster entry must be a string").
				WithContext("index", i).Build())
			continue
		}
		c, err := ParseComponent(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("roster entry %d: %w", i, err))
			continue
		}
		msgs = append(msgs, Message{Action: action, Component: &c, Extras: NewPayload()})
	}
	return msgs, errs
}

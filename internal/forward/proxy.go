// Package forward repackages generic payloads into outbound messages.
package forward

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	ferrors "git.home.luguber.info/inful/meterd/internal/foundation/errors"
	"git.home.luguber.info/inful/meterd/internal/logfields"
	"git.home.luguber.info/inful/meterd/internal/protocol"
)

// Forward extracts the reserved keys from payload, in fixed order, and builds
// an outbound message from what remains:
//
//  1. intent.action becomes the message action
//  2. intent.component is parsed as "<namespace>/<name>"
//  3. intent.flags (integer) becomes the dispatch flags
//  4. intent.extra.key names the nested payload in bundle mode
//
// Each reserved key is removed from payload when present. The remaining
// entries are nested under the step 4 key when bundle is true, or merged
// flat otherwise. The message delivery is left for the caller to set.
func Forward(payload *Payload, bundle bool, logger *slog.Logger) (Message, error) {
	if logger == nil {
		logger = slog.Default()
	}
	msg := Message{Extras: NewPayload()}
	if payload == nil {
		logger.Debug("No extras given, nothing to repackage")
		return msg, nil
	}

	if v, ok := payload.Delete(protocol.KeyIntentAction); ok {
		s, err := stringValue(protocol.KeyIntentAction, v)
		if err != nil {
			return Message{}, err
		}
		msg.Action = s
	}

	if v, ok := payload.Delete(protocol.KeyIntentComponent); ok {
		s, isString := v.(string)
		if !isString {
			return Message{}, ferrors.AddressError("component must be a string").
				WithContext("key", protocol.KeyIntentComponent).
				WithContext("type", fmt.Sprintf("%T", v)).Build()
		}
		c, err := ParseComponent(s)
		if err != nil {
			return Message{}, err
		}
		msg.Component = &c
	}

	if v, ok := payload.Delete(protocol.KeyIntentFlags); ok {
		n, err := intValue(v)
		if err != nil {
			return Message{}, err
		}
		msg.Flags = n
	}

	nestKey := protocol.KeyDefaultBundle
	if v, ok := payload.Delete(protocol.KeyIntentExtrasKey); ok {
		s, err := stringValue(protocol.KeyIntentExtrasKey, v)
		if err != nil {
			return Message{}, err
		}
		if s != "" {
			nestKey = s
		}
	}

	payload.Range(func(k string, v any) bool {
		if v == nil {
			logger.Warn("Forwarding null value", logfields.Key(k))
		} else {
			logger.Debug("Forwarding value", logfields.Key(k), slog.String("type", fmt.Sprintf("%T", v)))
		}
		return true
	})

	rest := payload.Clone()
	if bundle {
		msg.Extras.Set(nestKey, rest)
	} else {
		msg.Extras = rest
	}

	logger.Debug("Repackaged message",
		logfields.Action(msg.Action),
		slog.Bool("bundled", bundle),
		slog.String("message", msg.String()))
	return msg, nil
}

func stringValue(key string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", ferrors.ValidationError("reserved key must be a string").
			WithContext("key", key).
			WithContext("type", fmt.Sprintf("%T", v)).Build()
	}
	return s, nil
}

// intValue accepts Go integers, JSON numbers and integral floats.
func intValue(v any) (int, error) {
	bad := func() error {
		return ferrors.ValidationError("flags must be an integer").
			WithContext("key", protocol.KeyIntentFlags).
			WithContext("value", fmt.Sprint(v)).Build()
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, bad()
		}
		return int(i), nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, bad()
		}
		return int(n), nil
	}
	return 0, bad()
}

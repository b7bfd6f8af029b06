package forward

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/meterd/internal/foundation/errors"
	"git.home.luguber.info/inful/meterd/internal/protocol"
)

func destinations(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Component.String())
	}
	return out
}

func TestExpandRosterCardinality(t *testing.T) {
	stop := protocol.Action("STOP")
	for _, apps := range [][]any{{"ns1/appA", "ns2/appB"}, {"ns2/appB", "ns1/appA"}} {
		msgs, errs := ExpandRoster(PayloadOf(protocol.KeyAppsArray, apps), stop)
		require.Empty(t, errs)
		require.Len(t, msgs, 2)
		for _, m := range msgs {
			assert.Equal(t, stop, m.Action)
			assert.Equal(t, 0, m.Extras.Len(), "roster messages carry no payload")
		}
		assert.ElementsMatch(t, []string{"ns1/appA", "ns2/appB"}, destinations(msgs))
	}
}

// A malformed entry fails on its own; the rest of the batch still goes out.
func TestExpandRosterPartialSuccess(t *testing.T) {
	p := PayloadOf(protocol.KeyAppsArray, []string{"ns1/appA", "broken", "ns2/appB", "a/b/c"})
	msgs, errs := ExpandRoster(p, protocol.Action("START"))

	assert.Equal(t, []string{"ns1/appA", "ns2/appB"}, destinations(msgs))
	require.Len(t, errs, 2)
	for _, err := range errs {
		assert.True(t, ferrors.HasCategory(err, ferrors.CategoryAddress))
	}
}

func TestExpandRosterNonStringEntry(t *testing.T) {
	msgs, errs := ExpandRoster(PayloadOf(protocol.KeyAppsArray, []any{7, "a/b"}), "X")
	assert.Len(t, msgs, 1)
	require.Len(t, errs, 1)
	assert.True(t, ferrors.HasCategory(errs[0], ferrors.CategoryAddress))
}

func TestExpandRosterMissingOrInvalid(t *testing.T) {
	msgs, errs := ExpandRoster(NewPayload(), "X")
	assert.Empty(t, msgs)
	assert.Empty(t, errs)

	msgs, errs = ExpandRoster(PayloadOf(protocol.KeyAppsArray, "ns/app"), "X")
	assert.Empty(t, msgs)
	require.Len(t, errs, 1)
	assert.True(t, ferrors.HasCategory(errs[0], ferrors.CategoryValidation))
}

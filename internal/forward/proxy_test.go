package forward

import (
	"encoding/json"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/meterd/internal/foundation/errors"
	"git.home.luguber.info/inful/meterd/internal/protocol"
)

func TestForwardExtractionIsOrderIndependent(t *testing.T) {
	entries := [][2]any{
		{protocol.KeyIntentAction, "X"},
		{protocol.KeyIntentComponent, "pkgA/pkgB"},
		{protocol.KeyIntentFlags, 4},
		{"alpha", "one"},
		{"beta", 2},
	}
	rng := rand.New(rand.NewPCG(1, 2))

	for i := range 20 {
		shuffled := append([][2]any(nil), entries...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		p := NewPayload()
		for _, e := range shuffled {
			p.Set(e[0].(string), e[1])
		}

		msg, err := Forward(p, false, nil)
		require.NoError(t, err, "iteration %d", i)
		assert.Equal(t, "X", msg.Action)
		assert.Equal(t, &Component{Namespace: "pkgA", Name: "pkgB"}, msg.Component)
		assert.Equal(t, 4, msg.Flags)
		assert.ElementsMatch(t, []string{"alpha", "beta"}, msg.Extras.Keys())

		// Reserved keys are consumed from the caller's payload.
		assert.ElementsMatch(t, []string{"alpha", "beta"}, p.Keys())
	}
}

func TestForwardBundleNestsUnderExtraKey(t *testing.T) {
	p := PayloadOf(
		protocol.KeyIntentExtrasKey, "app.CONFIG",
		"period", 10,
		"name", "thermal",
	)
	msg, err := Forward(p, true, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"app.CONFIG"}, msg.Extras.Keys())
	nested, _ := msg.Extras.Get("app.CONFIG")
	assert.Equal(t, []string{"period", "name"}, nested.(*Payload).Keys())
}

func TestForwardBundleDefaultsKey(t *testing.T) {
	msg, err := Forward(PayloadOf("k", "v"), true, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{protocol.KeyDefaultBundle}, msg.Extras.Keys())
}

func TestForwardFlatIgnoresExtraKeyButConsumesIt(t *testing.T) {
	p := PayloadOf(protocol.KeyIntentExtrasKey, "nest", "k", "v")
	msg, err := Forward(p, false, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, msg.Extras.Keys())
}

func TestForwardMalformedComponentFailsClosed(t *testing.T) {
	for _, comp := range []any{"singlepart", "a/b/c", "/b", "a/", 42} {
		msg, err := Forward(PayloadOf(protocol.KeyIntentComponent, comp, "k", "v"), false, nil)
		require.Error(t, err, "component %v", comp)
		assert.True(t, ferrors.HasCategory(err, ferrors.CategoryAddress), "component %v", comp)
		assert.Equal(t, Message{}, msg, "no message produced")
	}
}

func TestForwardFlagsAcceptIntegerForms(t *testing.T) {
	for _, v := range []any{4, int64(4), json.Number("4"), float64(4)} {
		msg, err := Forward(PayloadOf(protocol.KeyIntentFlags, v), false, nil)
		require.NoError(t, err)
		assert.Equal(t, 4, msg.Flags)
	}
	for _, v := range []any{"4", 4.5, json.Number("4.5"), true} {
		_, err := Forward(PayloadOf(protocol.KeyIntentFlags, v), false, nil)
		assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation), "flags %v", v)
	}
}

func TestForwardNilPayload(t *testing.T) {
	msg, err := Forward(nil, true, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, msg.Extras.Len())
	assert.Empty(t, msg.Action)
}

func TestForwardFromDecodedJSON(t *testing.T) {
	var p Payload
	require.NoError(t, json.Unmarshal([]byte(`{
		"intent.action": "ch.ethz.exot.intents.exotapps.action.CREATE",
		"intent.component": "ch.ethz.exot.thermalscui/.MeterService",
		"intent.flags": 32,
		"ch.ethz.exot.intents.exotapps.keyextra.CONFIG": "{\"period\":1}"
	}`), &p))

	msg, err := Forward(&p, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 32, msg.Flags)
	assert.Equal(t, ".MeterService", msg.Component.Name)
	assert.Equal(t, []string{protocol.KeyConfig}, msg.Extras.Keys())
}

func TestParseComponent(t *testing.T) {
	c, err := ParseComponent("ns/name")
	require.NoError(t, err)
	assert.Equal(t, "ns/name", c.String())
}

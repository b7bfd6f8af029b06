// Package protocol holds the wire names shared by meterd and its peers:
// action and broadcast names, payload keys, and the forward proxy's
// reserved keys.
package protocol

import "strings"

// Bases of the two name families.
const (
	AppsBase  = "ch.ethz.exot.intents.exotapps"
	ProxyBase = "ch.ethz.exot.intents.IntentProxy"
)

const (
	appsActionPrefix  = AppsBase + ".action."
	proxyActionPrefix = ProxyBase + ".action."
	broadcastPrefix   = AppsBase + ".broadcast."
	appsKeyPrefix     = AppsBase + ".keyextra."
	proxyKeyPrefix    = ProxyBase + ".keyextra."
)

// Status broadcasts.
const (
	BroadcastStatus    = broadcastPrefix + "STATUS"
	BroadcastKilled    = broadcastPrefix + "KILLED"
	BroadcastException = broadcastPrefix + "EXCEPTION"
)

// Payload keys used by the lifecycle command surface.
const (
	KeyStatus   = appsKeyPrefix + "STATUS"
	KeyDataPath = appsKeyPrefix + "DATA_PATH"
	KeyUUID     = appsKeyPrefix + "UUID"
	KeyConfig   = appsKeyPrefix + "CONFIG"
)

// Reserved forward keys. They are consumed by the proxy and never passed
// through.
const (
	KeyIntentAction    = "intent.action"
	KeyIntentComponent = "intent.component"
	KeyIntentFlags     = "intent.flags"
	KeyIntentExtrasKey = "intent.extra.key"

	// KeyDefaultBundle names the nested payload when intent.extra.key is absent.
	KeyDefaultBundle = proxyKeyPrefix + "BUNDLE"
	// KeyAppsArray holds the roster for START_APPS and STOP_APPS.
	KeyAppsArray = proxyKeyPrefix + "APPS_ARRAY"
)

// Action returns the fully qualified lifecycle action for verb.
func Action(verb string) string { return appsActionPrefix + verb }

// ProxyAction returns the fully qualified proxy action for verb.
func ProxyAction(verb string) string { return proxyActionPrefix + verb }

// ShortAction strips a known action prefix from name. Names without one are
// returned trimmed.
func ShortAction(name string) string {
	name = strings.TrimSpace(name)
	for _, p := range []string{appsActionPrefix, proxyActionPrefix} {
		if rest, ok := strings.CutPrefix(name, p); ok {
			return rest
		}
	}
	return name
}

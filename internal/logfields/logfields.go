package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyVerb       = "verb"
	KeyState      = "state"
	KeyMode       = "mode"
	KeySource     = "source"
	KeyCommandID  = "command_id"
	KeyAction     = "action"
	KeyComponent  = "component"
	KeyDelivery   = "delivery"
	KeyFlags      = "flags"
	KeyKey        = "key"
	KeyOp         = "op"
	KeyOK         = "ok"
	KeyEvent      = "event"
	KeyListener   = "listener"
	KeySubject    = "subject"
	KeyJobName    = "job_name"
	KeyDurationMS = "duration_ms"
	KeyRunning    = "running_time"
	KeyPath       = "path"
	KeyURL        = "url"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Verb(v string) slog.Attr       { return slog.String(KeyVerb, v) }
func State(s string) slog.Attr      { return slog.String(KeyState, s) }
func Mode(m string) slog.Attr       { return slog.String(KeyMode, m) }
func Source(s string) slog.Attr     { return slog.String(KeySource, s) }
func CommandID(id string) slog.Attr { return slog.String(KeyCommandID, id) }
func Action(a string) slog.Attr     { return slog.String(KeyAction, a) }
func Component(c string) slog.Attr  { return slog.String(KeyComponent, c) }
func Delivery(d string) slog.Attr   { return slog.String(KeyDelivery, d) }
func Flags(f int) slog.Attr         { return slog.Int(KeyFlags, f) }
func Key(k string) slog.Attr        { return slog.String(KeyKey, k) }
func Op(name string) slog.Attr      { return slog.String(KeyOp, name) }
func OK(ok bool) slog.Attr          { return slog.Bool(KeyOK, ok) }
func Event(kind string) slog.Attr   { return slog.String(KeyEvent, kind) }
func Listener(id uint64) slog.Attr  { return slog.Uint64(KeyListener, id) }
func Subject(s string) slog.Attr    { return slog.String(KeySubject, s) }
func JobName(n string) slog.Attr    { return slog.String(KeyJobName, n) }
func RunningTime(r string) slog.Attr {
	return slog.String(KeyRunning, r)
}
func Path(p string) slog.Attr { return slog.String(KeyPath, p) }
func URL(u string) slog.Attr  { return slog.String(KeyURL, u) }

// Duration records d in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d.Microseconds())/1000)
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

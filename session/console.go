package session

import "encoding/json"

// ConsolePlugin is the plugin name carried by console events.
const ConsolePlugin = "rrweb/console@1"

// PluginData is the data of a Plugin event.
type PluginData struct {
	Plugin  string          `json:"plugin"`
	Payload json.RawMessage `json:"payload"`
}

// ConsolePayload is one captured console call. Payload holds each argument
// already stringified and size-limited.
type ConsolePayload struct {
	Level   string   `json:"level"`
	Trace   []string `json:"trace"`
	Payload []string `json:"payload"`
}

// NewConsoleEvent wraps a console payload into a Plugin event.
func NewConsoleEvent(ts int64, cp ConsolePayload) Event {
	if cp.Trace == nil {
		cp.Trace = []string{}
	}
	if cp.Payload == nil {
		cp.Payload = []string{}
	}
	p, _ := json.Marshal(cp)
	ev, _ := NewEvent(Plugin, ts, PluginData{Plugin: ConsolePlugin, Payload: p})
	return ev
}

// Console decodes a console plugin event.
func (e Event) Console() (ConsolePayload, bool) {
	if e.Type != Plugin {
		return ConsolePayload{}, false
	}
	var pd PluginData
	if err := e.DecodeData(&pd); err != nil || pd.Plugin != ConsolePlugin {
		return ConsolePayload{}, false
	}
	var cp ConsolePayload
	if err := json.Unmarshal(pd.Payload, &cp); err != nil {
		return ConsolePayload{}, false
	}
	return cp, true
}

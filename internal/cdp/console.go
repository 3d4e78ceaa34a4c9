package cdp

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/replaygeo/recorder"
	"github.com/hazyhaar/replaygeo/session"
)

func (r *run) onConsole(e *proto.RuntimeConsoleAPICalled) {
	level := consoleLevel(e.Type)
	if !slices.Contains(r.cfg.Console.Levels, level) {
		return
	}
	cp := session.ConsolePayload{
		Level:   level,
		Trace:   stackTrace(e.StackTrace),
		Payload: make([]string, 0, len(e.Args)),
	}
	for _, arg := range e.Args {
		cp.Payload = append(cp.Payload, recorder.Stringify(remoteValue(arg), *r.cfg.Console))
	}
	ev := session.NewConsoleEvent(r.cfg.Now().UnixMilli(), cp)
	r.push(item{event: &ev})
}

// consoleLevel maps a Runtime.consoleAPICalled type to a console level.
func consoleLevel(t proto.RuntimeConsoleAPICalledType) string {
	switch string(t) {
	case "warning":
		return "warn"
	case "startGroup", "startGroupCollapsed":
		return "group"
	}
	return string(t)
}

func stackTrace(st *proto.RuntimeStackTrace) []string {
	if st == nil {
		return []string{}
	}
	out := make([]string, 0, len(st.CallFrames))
	for _, f := range st.CallFrames {
		name := f.FunctionName
		if name == "" {
			name = "<anonymous>"
		}
		out = append(out, fmt.Sprintf("%s@%s:%d:%d", name, f.URL, f.LineNumber+1, f.ColumnNumber+1))
	}
	return out
}

// remoteValue converts a console argument into a Go value close to what
// the page passed: primitives by value, objects from their preview.
func remoteValue(o *proto.RuntimeRemoteObject) any {
	if o == nil {
		return nil
	}
	if o.UnserializableValue != "" {
		return string(o.UnserializableValue)
	}
	switch string(o.Type) {
	case "undefined":
		return "undefined"
	case "function", "symbol":
		return o.Description
	case "object":
		if o.Subtype == "null" {
			return nil
		}
		if o.Subtype == "error" {
			return o.Description
		}
		if o.Preview != nil {
			return previewValue(o.Preview)
		}
	}
	if !o.Value.Nil() {
		return o.Value.Val()
	}
	return o.Description
}

func previewValue(p *proto.RuntimeObjectPreview) any {
	if p.Subtype == "array" {
		arr := make([]any, 0, len(p.Properties))
		for _, prop := range p.Properties {
			arr = append(arr, propertyValue(prop))
		}
		return arr
	}
	obj := make(map[string]any, len(p.Properties))
	for _, prop := range p.Properties {
		obj[prop.Name] = propertyValue(prop)
	}
	return obj
}

func propertyValue(p *proto.RuntimePropertyPreview) any {
	if p.ValuePreview != nil {
		return previewValue(p.ValuePreview)
	}
	switch string(p.Type) {
	case "number":
		if f, err := strconv.ParseFloat(p.Value, 64); err == nil {
			return f
		}
	case "boolean":
		return p.Value == "true"
	case "undefined":
		return "undefined"
	case "object":
		if p.Subtype == "null" {
			return nil
		}
	}
	return p.Value
}

package llm

import (
	"fmt"
	"strings"
)

// Kind tags the shape of a model response value.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindText
	KindSequence
	KindParts
	KindOpaque
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindSequence:
		return "sequence"
	case KindParts:
		return "parts"
	case KindOpaque:
		return "opaque"
	default:
		return "unknown"
	}
}

// Part is a single content fragment of a structured response.
type Part struct {
	Text string
}

// Response is the value a Generator hands back. Exactly one payload field is
// meaningful, selected by Kind.
type Response struct {
	Kind    Kind
	Text    string     // KindText
	Items   []Response // KindSequence, oldest turn first
	Parts   []Part     // KindParts
	Content any        // KindOpaque
	Raw     any        // KindUnknown
}

// Text builds a plain text response.
func Text(s string) Response { return Response{Kind: KindText, Text: s} }

// Sequence builds a multi-turn response.
func Sequence(items ...Response) Response { return Response{Kind: KindSequence, Items: items} }

// WithParts builds a structured response whose content exposes parts.
func WithParts(parts ...Part) Response { return Response{Kind: KindParts, Parts: parts} }

// Opaque builds a structured response that only exposes bare content.
func Opaque(content any) Response { return Response{Kind: KindOpaque, Content: content} }

// Unknown wraps a value of unrecognised shape.
func Unknown(v any) Response { return Response{Kind: KindUnknown, Raw: v} }

// Extract reduces a response to a single trimmed string. It never fails:
// shapes it cannot interpret degrade to their string form.
func Extract(r Response) string {
	switch r.Kind {
	case KindText:
		return strings.TrimSpace(r.Text)
	case KindSequence:
		// only the final turn is authoritative
		if len(r.Items) > 0 {
			return Extract(r.Items[len(r.Items)-1])
		}
		return strings.TrimSpace(stringify(r.Items))
	case KindParts:
		if len(r.Parts) > 0 {
			return strings.TrimSpace(r.Parts[0].Text)
		}
		return ""
	case KindOpaque:
		return strings.TrimSpace(stringify(r.Content))
	default:
		return strings.TrimSpace(stringify(r.Raw))
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case []Response:
		if len(t) == 0 {
			return "[]"
		}
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = Extract(item)
		}
		return "[" + strings.Join(parts, " ") + "]"
	default:
		return fmt.Sprint(v)
	}
}

// FromValue classifies a loosely typed value (for example a decoded JSON
// document) into a Response.
func FromValue(v any) Response {
	switch t := v.(type) {
	case Response:
		return t
	case string:
		return Text(t)
	case []Response:
		return Sequence(t...)
	case []string:
		items := make([]Response, len(t))
		for i, s := range t {
			items[i] = Text(s)
		}
		return Sequence(items...)
	case []any:
		items := make([]Response, len(t))
		for i, item := range t {
			items[i] = FromValue(item)
		}
		return Sequence(items...)
	case map[string]any:
		content, ok := t["content"]
		if !ok {
			return Unknown(t)
		}
		if parts, ok := partsOf(content); ok {
			return WithParts(parts...)
		}
		return Opaque(content)
	case fmt.Stringer:
		return Opaque(t)
	default:
		return Unknown(v)
	}
}

func partsOf(content any) ([]Part, bool) {
	m, ok := content.(map[string]any)
	if !ok {
		return nil, false
	}
	raw, ok := m["parts"].([]any)
	if !ok {
		return nil, false
	}
	parts := make([]Part, 0, len(raw))
	for _, p := range raw {
		switch pt := p.(type) {
		case map[string]any:
			text, _ := pt["text"].(string)
			parts = append(parts, Part{Text: text})
		case string:
			parts = append(parts, Part{Text: pt})
		default:
			parts = append(parts, Part{Text: fmt.Sprint(pt)})
		}
	}
	return parts, true
}

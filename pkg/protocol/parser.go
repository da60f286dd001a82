// Package protocol reassembles a chunked LLM token stream into typed
// structural events.
//
// The model is prompted to interleave content with in-band delimiters: the
// sigil § followed by a lowercase keyword. "§think:", "§respond:" and
// "§call:" open content sections; "§execute" and "§end" are terminators.
// Text before any delimiter belongs to an implicit respond section.
//
// Tokens may split a delimiter anywhere ("§", "thi", "nk", ": hello").
// The parser buffers only the smallest ambiguous tail that could still
// become a delimiter and emits everything else immediately, so plain text
// streams through token by token.
package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// EventType classifies a parser event.
type EventType string

const (
	EventThink   EventType = "think"
	EventRespond EventType = "respond"
	EventCall    EventType = "call"
	EventExecute EventType = "execute"
	EventEnd     EventType = "end"
	EventError   EventType = "error"
)

// Event is one typed unit of parser output. Content is plain text except for
// call events, where it is the raw JSON text of the call array (repaired if
// the model emitted almost-JSON).
type Event struct {
	Type    EventType `json:"type"`
	Content string    `json:"content,omitempty"`
}

// Sigil is the delimiter marker character.
const Sigil = "§"

// sigilFirstByte is the leading byte of the sigil's UTF-8 encoding.
const sigilFirstByte = "\xc2"

// delimiters maps the body following the sigil to the event it introduces.
// Bodies with a trailing colon open a content section; the rest terminate.
var delimiters = []struct {
	body    string
	event   EventType
	section bool
}{
	{"think:", EventThink, true},
	{"respond:", EventRespond, true},
	{"call:", EventCall, true},
	{"execute", EventExecute, false},
	{"end", EventEnd, false},
}

// PlannedCall is the element shape a call section's JSON must decode to.
type PlannedCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Parser converts a token stream into an event stream. A Parser is
// single-use: create one per LLM call.
type Parser struct {
	section     EventType // current open section type
	trimLeading bool      // drop whitespace at section start
	callBuf     strings.Builder
	carry       string // ambiguous tail that may still become a delimiter
	done        bool
}

// NewParser creates a parser positioned in the implicit respond section.
func NewParser() *Parser {
	return &Parser{section: EventRespond, trimLeading: true}
}

// Parse consumes tokens until a terminator, input exhaustion, or context
// cancellation, emitting events on the returned channel. The channel is
// closed when parsing completes.
func Parse(ctx context.Context, tokens <-chan string) <-chan Event {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		p := NewParser()
		emit := func(ev Event) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			case tok, ok := <-tokens:
				if !ok {
					p.finish(emit)
					return
				}
				if !p.feed(tok, emit) {
					return
				}
				if p.done {
					return
				}
			}
		}
	}()
	return out
}

// ParseTokens parses an in-memory token slice. Convenience for callers that
// already hold the full stream (and for tests).
func ParseTokens(tokens []string) []Event {
	var events []Event
	emit := func(ev Event) bool {
		events = append(events, ev)
		return true
	}
	p := NewParser()
	for _, tok := range tokens {
		p.feed(tok, emit)
		if p.done {
			return events
		}
	}
	p.finish(emit)
	return events
}

// feed processes one token. Returns false if emission was aborted.
func (p *Parser) feed(tok string, emit func(Event) bool) bool {
	if p.done {
		return true
	}
	text := p.carry + tok
	p.carry = ""

	for text != "" {
		idx := strings.Index(text, Sigil)
		if idx < 0 {
			// A trailing 0xC2 byte may be the first half of a sigil rune
			// split across tokens; hold it until the next token resolves it.
			if strings.HasSuffix(text, sigilFirstByte) {
				p.carry = sigilFirstByte
				text = text[:len(text)-1]
				if text == "" {
					return true
				}
			}
			if !p.content(text, emit) {
				return false
			}
			return true
		}
		if idx > 0 {
			if !p.content(text[:idx], emit) {
				return false
			}
		}
		rest := text[idx:]
		kind, consumed, state := matchDelimiter(rest)
		switch state {
		case delimMatch:
			if !p.closeSection(emit) {
				return false
			}
			if isSection(kind) {
				p.section = kind
				p.trimLeading = true
				text = rest[consumed:]
				continue
			}
			// Terminator: emit and stop consuming.
			p.done = true
			return emit(Event{Type: kind})
		case delimPrefix:
			// The whole remainder could still become a delimiter; hold it.
			p.carry = rest
			return true
		default:
			// False alarm: the sigil is literal content.
			if !p.content(Sigil, emit) {
				return false
			}
			text = rest[len(Sigil):]
		}
	}
	return true
}

// finish flushes state at input exhaustion with no terminator seen.
func (p *Parser) finish(emit func(Event) bool) {
	if p.done {
		return
	}
	if p.carry != "" {
		// Unresolved ambiguous tail is literal content after all.
		if !p.content(p.carry, emit) {
			return
		}
		p.carry = ""
	}
	p.closeSection(emit)
	p.done = true
}

// content routes section text: call sections accumulate for JSON validation,
// think/respond stream straight through.
func (p *Parser) content(s string, emit func(Event) bool) bool {
	if p.trimLeading {
		s = strings.TrimLeft(s, " \t\r\n")
		if s == "" {
			return true
		}
		p.trimLeading = false
	}
	if p.section == EventCall {
		p.callBuf.WriteString(s)
		return true
	}
	return emit(Event{Type: p.section, Content: s})
}

// closeSection finalizes the current section before a new delimiter or EOF.
// Only call sections buffer content, so only they emit here.
func (p *Parser) closeSection(emit func(Event) bool) bool {
	if p.section != EventCall {
		return true
	}
	raw := strings.TrimSpace(p.callBuf.String())
	p.callBuf.Reset()
	if raw == "" {
		return emit(Event{Type: EventError, Content: "Invalid JSON in call section: empty call body"})
	}
	valid, err := validateCallJSON(raw)
	if err != nil {
		return emit(Event{Type: EventError, Content: fmt.Sprintf("Invalid JSON in call section: %v", err)})
	}
	return emit(Event{Type: EventCall, Content: valid})
}

// validateCallJSON checks that raw decodes as a call array, attempting one
// repair pass for almost-JSON before giving up.
func validateCallJSON(raw string) (string, error) {
	if err := decodeCalls(raw); err == nil {
		return raw, nil
	}
	repaired, repairErr := jsonrepair.JSONRepair(raw)
	if repairErr != nil {
		return "", fmt.Errorf("call section is not a JSON array of {name, args}")
	}
	if err := decodeCalls(repaired); err != nil {
		return "", err
	}
	return repaired, nil
}

func decodeCalls(raw string) error {
	var calls []PlannedCall
	if err := json.Unmarshal([]byte(raw), &calls); err != nil {
		return fmt.Errorf("call section is not a JSON array of {name, args}")
	}
	for i, c := range calls {
		if c.Name == "" {
			return fmt.Errorf("call %d is missing a tool name", i)
		}
	}
	return nil
}

// DecodeCalls parses validated call-section JSON into planned calls.
func DecodeCalls(raw string) ([]PlannedCall, error) {
	var calls []PlannedCall
	if err := json.Unmarshal([]byte(raw), &calls); err != nil {
		return nil, fmt.Errorf("decode call array: %w", err)
	}
	return calls, nil
}

type delimState int

const (
	delimNone delimState = iota
	delimPrefix
	delimMatch
)

// matchDelimiter classifies text starting at a sigil. consumed is the byte
// length of the matched delimiter (sigil included). The lookahead is bounded
// by the longest delimiter body (8 chars), well under the 12-char budget.
func matchDelimiter(rest string) (EventType, int, delimState) {
	body := rest[len(Sigil):]
	prefix := false
	for _, d := range delimiters {
		if strings.HasPrefix(body, d.body) {
			return d.event, len(Sigil) + len(d.body), delimMatch
		}
		if strings.HasPrefix(d.body, body) {
			prefix = true
		}
	}
	if prefix {
		return "", 0, delimPrefix
	}
	return "", 0, delimNone
}

func isSection(t EventType) bool {
	return t == EventThink || t == EventRespond || t == EventCall
}

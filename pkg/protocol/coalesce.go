package protocol

// Coalesce merges adjacent think/respond chunk events into single events.
// The parser emits plain text eagerly, so one logical section may arrive as
// many small events; Coalesce recovers the per-section view. Call, error and
// terminator events pass through unchanged.
func Coalesce(events []Event) []Event {
	var out []Event
	for _, ev := range events {
		streamable := ev.Type == EventThink || ev.Type == EventRespond
		if streamable && len(out) > 0 && out[len(out)-1].Type == ev.Type {
			out[len(out)-1].Content += ev.Content
			continue
		}
		out = append(out, ev)
	}
	return out
}

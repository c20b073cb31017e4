package anthropic

// BuildSystemBlocks splits a system prompt into a cached persona block and an
// uncached per-request block. The persona rarely changes between turns of a
// conversation, so it carries a 5-minute cache breakpoint. An empty dynamic
// part is omitted.
func BuildSystemBlocks(persona, dynamic string) []SystemBlock {
	blocks := []SystemBlock{{
		Text:         persona,
		CacheControl: &CacheControl{TTL: "5m"},
	}}
	if dynamic != "" {
		blocks = append(blocks, SystemBlock{Text: dynamic})
	}
	return blocks
}

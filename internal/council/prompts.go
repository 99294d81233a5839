package council

import (
	"fmt"
	"strings"
)

// guardSystemInstruction is the fixed gatekeeper policy. Rejections must be
// hostile and reference the specific query; only queries needing
// multi-perspective deliberation pass.
const guardSystemInstruction = `You are the Ruthless Gatekeeper of the High Council of Intelligence.
Your sole purpose is to BLOCK queries that are too simple, factual, trivial, or nonsensical.

Rules:
1. If the query is petty (math, simple facts, coding snippets, hello), REJECT IT.
2. REJECTION format: Rude, arrogant, dismissive. Mock the specific query.
3. ALLOWED: Only complex, philosophical, ethical, or multi-faceted problems.

Return JSON: { "allowed": boolean, "reason": string }`

// stancePrompt binds a member's persona to the query and requests a short
// in-character reaction.
func stancePrompt(m Member, query string) string {
	return fmt.Sprintf(`You are %s (%s).
Your Personality: %s

The User asks: %q

Provide your initial, concise stance on this matter (1-2 sentences max).
Stay strictly in character.`, m.Name, m.Title, m.Description, query)
}

// chairmanSystemInstruction pins the chairman to strict JSON output.
const chairmanSystemInstruction = "You are the Grand Scribe and Chairman. Output strictly JSON."

// chairmanPrompt embeds the query and the rendered stances and asks for the
// full scripted meeting.
func chairmanPrompt(query string, stances []Stance) string {
	return fmt.Sprintf(`You are the Chairman of the Council.

User Query: %q

I have gathered the initial thoughts from the Council Members (actual separate AI models):
%s

YOUR TASK:
Based on these real stances, script the full Council Meeting discussion.
1. Start with 'logic' (The Architect).
2. Ensure EVERY member speaks, utilizing the perspectives provided above.
3. Encourage conflict/debate where stances differ.
4. Conclude with a "Decree" (a synthesis/final answer).

Return strictly a JSON Array of objects:
[
  { "speakerId": "logic", "content": "...", "type": "debate" },
  ...
  { "speakerId": "decree", "content": "The final verdict...", "type": "decree" }
]`, query, RenderStances(stances))
}

// RenderStances formats stances as one 'Name: "content"' line each, the exact
// shape the chairman prompt consumes.
func RenderStances(stances []Stance) string {
	lines := make([]string, len(stances))
	for i, s := range stances {
		lines[i] = fmt.Sprintf("%s: %q", s.MemberName, s.Content)
	}
	return strings.Join(lines, "\n")
}

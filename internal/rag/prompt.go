package rag

import (
	"fmt"
	"strings"

	"github.com/aiforum/rag-service/internal/model"
)

const (
	// DefaultPromptContextDocs is the maximum number of retrieved documents
	// included in the context section.
	DefaultPromptContextDocs = 5
	// DefaultPromptBudget is the maximum assembled prompt size in characters.
	DefaultPromptBudget = 8000

	emptyContextFallback = "No context found. Answer from your own knowledge."
)

// PromptOptions tunes prompt assembly. Zero values fall back to defaults.
type PromptOptions struct {
	// MaxContextDocs caps the context section document count.
	MaxContextDocs int
	// Budget is the maximum prompt length in characters. When the context
	// section would push the prompt past the budget, lower-similarity
	// documents are dropped first. The persona sections and the question are
	// never dropped.
	Budget int
}

// BuildPrompt assembles the generation prompt for one reply: persona sections
// in fixed order, the retrieved context annotated with similarity scores, the
// live question, an optional addressing clause, and the closing instruction.
// Deterministic given identical inputs.
func BuildPrompt(profile *model.CharacterProfile, docs []model.RetrievedDocument, question string, replyTo *string, opts PromptOptions) string {
	maxDocs := opts.MaxContextDocs
	if maxDocs <= 0 {
		maxDocs = DefaultPromptContextDocs
	}
	budget := opts.Budget
	if budget <= 0 {
		budget = DefaultPromptBudget
	}
	if len(docs) > maxDocs {
		docs = docs[:maxDocs]
	}

	// Drop lowest-similarity documents until the prompt fits. Documents
	// arrive similarity-descending, so dropping from the tail is dropping
	// the least relevant first. With zero documents left the persona-only
	// prompt is returned regardless of size.
	for n := len(docs); ; n-- {
		prompt := renderPrompt(profile, docs[:n], question, replyTo)
		if len(prompt) <= budget || n == 0 {
			return prompt
		}
	}
}

func renderPrompt(profile *model.CharacterProfile, docs []model.RetrievedDocument, question string, replyTo *string) string {
	displayName := profile.DisplayName
	if displayName == "" {
		displayName = profile.Name
	}

	var contextSection string
	if len(docs) == 0 {
		contextSection = emptyContextFallback
	} else {
		parts := make([]string, len(docs))
		for i, doc := range docs {
			parts[i] = fmt.Sprintf("Document %d (similarity: %.3f):\n%s", i+1, doc.Similarity, doc.Document.Content)
		}
		contextSection = strings.Join(parts, "\n\n")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s (%s).\n\n", displayName, profile.Name)
	fmt.Fprintf(&b, "YOUR PERSONALITY AND CHARACTER:\n%s\n\n", profile.Personality)
	fmt.Fprintf(&b, "YOUR BACKGROUND:\n%s\n\n", profile.Background)
	fmt.Fprintf(&b, "YOUR EXPERTISE:\n%s\n\n", strings.Join(profile.Expertise, ", "))
	fmt.Fprintf(&b, "YOUR COMMUNICATION STYLE:\n%s\n\n", profile.CommunicationStyle)
	fmt.Fprintf(&b, "YOUR PREFERENCES:\n%s\n\n", renderPreferences(profile.Preferences))
	fmt.Fprintf(&b, "RELEVANT CONTEXT FROM PREVIOUS DISCUSSIONS:\n%s\n\n", contextSection)
	fmt.Fprintf(&b, "QUESTION:\n%s", question)
	if replyTo != nil && *replyTo != "" {
		fmt.Fprintf(&b, "\n\nYou are replying to user: %s", *replyTo)
	}
	fmt.Fprintf(&b, "\n\nINSTRUCTION:\n")
	fmt.Fprintf(&b, "Answer the question as %s, using your personality, communication style, and expertise.\n", displayName)
	fmt.Fprintf(&b, "Rely on the provided context, but if it is insufficient, use your own knowledge in your areas of expertise.\n")
	fmt.Fprintf(&b, "Keep your characteristic style and manner of expression.")

	return strings.TrimSpace(b.String())
}

func renderPreferences(prefs map[string]any) string {
	responseLength := preference(prefs, "response_length", "medium")
	includeCode := preference(prefs, "include_code_examples", "false")
	citeSources := preference(prefs, "cite_sources", "false")
	technicalLevel := preference(prefs, "technical_level", "intermediate")

	return fmt.Sprintf(
		"- Response length: %s\n- Include code examples: %s\n- Cite sources: %s\n- Technical level: %s",
		responseLength, includeCode, citeSources, technicalLevel,
	)
}

func preference(prefs map[string]any, key, fallback string) string {
	if prefs == nil {
		return fallback
	}
	v, ok := prefs[key]
	if !ok || v == nil {
		return fallback
	}
	return fmt.Sprintf("%v", v)
}

package rag_test

import (
	"strings"
	"testing"

	"github.com/aiforum/rag-service/internal/model"
	"github.com/aiforum/rag-service/internal/rag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProfile() *model.CharacterProfile {
	return &model.CharacterProfile{
		Name:               "alaev",
		DisplayName:        "Alaev",
		Personality:        "Dry, precise, allergic to hype.",
		Background:         "Systems engineer turned forum regular.",
		Expertise:          []string{"databases", "distributed systems"},
		CommunicationStyle: "Short sentences. Concrete examples.",
		Preferences: map[string]any{
			"response_length": "short",
			"technical_level": "expert",
		},
	}
}

func doc(owner, content string, similarity float64) model.RetrievedDocument {
	return model.RetrievedDocument{
		Document:   model.KnowledgeDocument{Owner: owner, Content: content},
		Similarity: similarity,
	}
}

func TestBuildPromptSectionOrder(t *testing.T) {
	docs := []model.RetrievedDocument{doc("alaev", "Postgres beats the ORM every time.", 0.91)}
	prompt := rag.BuildPrompt(testProfile(), docs, "What do you think of ORMs?", nil, rag.PromptOptions{})

	sections := []string{
		"You are Alaev (alaev).",
		"YOUR PERSONALITY AND CHARACTER:",
		"YOUR BACKGROUND:",
		"YOUR EXPERTISE:",
		"YOUR COMMUNICATION STYLE:",
		"YOUR PREFERENCES:",
		"RELEVANT CONTEXT FROM PREVIOUS DISCUSSIONS:",
		"QUESTION:",
		"INSTRUCTION:",
	}
	last := -1
	for _, section := range sections {
		idx := strings.Index(prompt, section)
		require.GreaterOrEqual(t, idx, 0, "missing section %q", section)
		assert.Greater(t, idx, last, "section %q out of order", section)
		last = idx
	}

	assert.Contains(t, prompt, "databases, distributed systems")
	assert.Contains(t, prompt, "Document 1 (similarity: 0.910):")
	assert.Contains(t, prompt, "What do you think of ORMs?")
}

func TestBuildPromptPreferenceDefaults(t *testing.T) {
	profile := testProfile()
	profile.Preferences = nil
	prompt := rag.BuildPrompt(profile, nil, "q", nil, rag.PromptOptions{})

	assert.Contains(t, prompt, "- Response length: medium")
	assert.Contains(t, prompt, "- Include code examples: false")
	assert.Contains(t, prompt, "- Cite sources: false")
	assert.Contains(t, prompt, "- Technical level: intermediate")
}

func TestBuildPromptPreferenceOverrides(t *testing.T) {
	prompt := rag.BuildPrompt(testProfile(), nil, "q", nil, rag.PromptOptions{})

	assert.Contains(t, prompt, "- Response length: short")
	assert.Contains(t, prompt, "- Technical level: expert")
}

func TestBuildPromptEmptyContextFallback(t *testing.T) {
	prompt := rag.BuildPrompt(testProfile(), nil, "What is sharding?", nil, rag.PromptOptions{})

	assert.Contains(t, prompt, "No context found. Answer from your own knowledge.")
	assert.NotContains(t, prompt, "Document 1")
	assert.Contains(t, prompt, "What is sharding?")
}

func TestBuildPromptReplyTo(t *testing.T) {
	replyTo := "Sly32"
	prompt := rag.BuildPrompt(testProfile(), nil, "q", &replyTo, rag.PromptOptions{})
	assert.Contains(t, prompt, "You are replying to user: Sly32")

	empty := ""
	prompt = rag.BuildPrompt(testProfile(), nil, "q", &empty, rag.PromptOptions{})
	assert.NotContains(t, prompt, "You are replying to user")
}

func TestBuildPromptCapsContextDocs(t *testing.T) {
	docs := []model.RetrievedDocument{
		doc("alaev", "one", 0.95),
		doc("alaev", "two", 0.90),
		doc("alaev", "three", 0.85),
	}
	prompt := rag.BuildPrompt(testProfile(), docs, "q", nil, rag.PromptOptions{MaxContextDocs: 2})

	assert.Contains(t, prompt, "Document 1")
	assert.Contains(t, prompt, "Document 2")
	assert.NotContains(t, prompt, "Document 3")
	assert.NotContains(t, prompt, "three")
}

func TestBuildPromptBudgetDropsLowestSimilarityFirst(t *testing.T) {
	long := strings.Repeat("x", 400)
	docs := []model.RetrievedDocument{
		doc("alaev", "keep "+long, 0.95),
		doc("alaev", "drop "+long, 0.75),
	}
	// A budget that fits the persona plus one document but not two.
	base := rag.BuildPrompt(testProfile(), docs[:1], "q", nil, rag.PromptOptions{})
	prompt := rag.BuildPrompt(testProfile(), docs, "q", nil, rag.PromptOptions{Budget: len(base)})

	assert.Contains(t, prompt, "keep")
	assert.NotContains(t, prompt, "drop")
}

func TestBuildPromptPersonaSurvivesTinyBudget(t *testing.T) {
	docs := []model.RetrievedDocument{doc("alaev", strings.Repeat("x", 1000), 0.9)}
	prompt := rag.BuildPrompt(testProfile(), docs, "What is sharding?", nil, rag.PromptOptions{Budget: 10})

	// The budget cannot drop the persona or the question; with every document
	// dropped the prompt is returned over budget.
	assert.Contains(t, prompt, "YOUR PERSONALITY AND CHARACTER:")
	assert.Contains(t, prompt, "What is sharding?")
	assert.Contains(t, prompt, "No context found. Answer from your own knowledge.")
}

func TestBuildPromptDeterministic(t *testing.T) {
	docs := []model.RetrievedDocument{doc("alaev", "ctx", 0.8)}
	a := rag.BuildPrompt(testProfile(), docs, "q", nil, rag.PromptOptions{})
	b := rag.BuildPrompt(testProfile(), docs, "q", nil, rag.PromptOptions{})
	assert.Equal(t, a, b)
}

func TestBuildPromptDisplayNameFallsBackToName(t *testing.T) {
	profile := testProfile()
	profile.DisplayName = ""
	prompt := rag.BuildPrompt(profile, nil, "q", nil, rag.PromptOptions{})
	assert.Contains(t, prompt, "You are alaev (alaev).")
}

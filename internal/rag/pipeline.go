package rag

import (
	"context"
	"strings"
	"time"

	"github.com/aiforum/rag-service/internal/model"
	registrygenerate "github.com/aiforum/rag-service/internal/registry/generate"
	registrystore "github.com/aiforum/rag-service/internal/registry/store"
	"github.com/aiforum/rag-service/internal/security"
	"github.com/charmbracelet/log"
)

// DefaultTopK is the number of context documents retrieved per query when the
// caller does not specify a limit.
const DefaultTopK = 10

// ProcessRequest asks for a grounded prompt on behalf of one character.
type ProcessRequest struct {
	Character string
	Question  string
	ReplyTo   *string
	// ContextLimit caps retrieved documents; zero uses DefaultTopK.
	ContextLimit int
	// SimilarityThreshold overrides the configured threshold when positive.
	SimilarityThreshold float64
}

// ProcessResult is the assembled prompt with its retrieval provenance.
type ProcessResult struct {
	EnhancedPrompt string                    `json:"enhanced_prompt"`
	ContextItems   []model.RetrievedDocument `json:"context_items"`
	Persona        *model.CharacterProfile   `json:"user_persona"`
	ProcessingTime time.Duration             `json:"processing_time"`
}

// Pipeline runs the retrieve, assemble, generate sequence. Each step is
// sequential; the only blocking points are the backend calls.
type Pipeline struct {
	store     registrystore.Store
	retriever *Retriever
	generator registrygenerate.Generator
	prompt    PromptOptions
}

// NewPipeline wires the pipeline from loaded plugins.
func NewPipeline(store registrystore.Store, retriever *Retriever, generator registrygenerate.Generator, prompt PromptOptions) *Pipeline {
	return &Pipeline{
		store:     store,
		retriever: retriever,
		generator: generator,
		prompt:    prompt,
	}
}

// Process loads the character persona, retrieves relevant knowledge, and
// assembles the generation prompt. An unknown character is a validation
// failure; an empty retrieval is not.
func (p *Pipeline) Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	start := time.Now()

	if strings.TrimSpace(req.Question) == "" {
		return nil, &registrystore.ValidationError{Field: "question", Message: "question is required"}
	}
	character := model.NormalizeCharacter(req.Character)
	if character == "" {
		return nil, &registrystore.ValidationError{Field: "character", Message: "character is required"}
	}

	profile, err := p.store.GetCharacterProfile(ctx, character)
	if err != nil {
		return nil, err
	}

	topK := req.ContextLimit
	if topK <= 0 {
		topK = DefaultTopK
	}

	var docs []model.RetrievedDocument
	if req.SimilarityThreshold > 0 {
		docs, err = p.retriever.GetRelevantDocumentsWithThreshold(ctx, req.Question, character, topK, req.SimilarityThreshold)
	} else {
		docs, err = p.retriever.GetRelevantDocuments(ctx, req.Question, character, topK)
	}
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		log.Debug("No context retrieved; falling back to persona-only prompt", "character", character)
	}

	prompt := BuildPrompt(profile, docs, req.Question, req.ReplyTo, p.prompt)

	return &ProcessResult{
		EnhancedPrompt: prompt,
		ContextItems:   docs,
		Persona:        profile,
		ProcessingTime: time.Since(start),
	}, nil
}

// GenerateReply runs the full pipeline for one job and returns the generated
// text. Persistence of the resulting message belongs to the caller so the
// job's terminal transition and its side effects stay together.
func (p *Pipeline) GenerateReply(ctx context.Context, job *model.Job) (*ProcessResult, string, error) {
	result, err := p.Process(ctx, ProcessRequest{
		Character: job.Character,
		Question:  job.Question,
		ReplyTo:   job.ReplyTo,
	})
	if err != nil {
		return nil, "", err
	}

	genStart := time.Now()
	generated, err := p.generator.Generate(ctx, registrygenerate.Request{Prompt: result.EnhancedPrompt})
	if security.GenerationLatency != nil {
		security.GenerationLatency.Observe(time.Since(genStart).Seconds())
	}
	if err != nil {
		return nil, "", err
	}
	return result, generated.Content, nil
}

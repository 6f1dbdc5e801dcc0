package lorem

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	loremgen "github.com/bozaro/golorem"

	"quorum/internal/domain"
	"quorum/internal/provider"
)

// Provider is a mock content provider that generates lorem ipsum text.
// Used for testing and development without requiring real API keys.
type Provider struct {
	generator *loremgen.Lorem
}

// NewProvider creates a new lorem ipsum provider.
func NewProvider() *Provider {
	return &Provider{
		generator: loremgen.New(),
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "lorem"
}

// Challenge-phase rounds require lexical evidence of critical engagement,
// so the mock prefixes contributions with marker phrases. Two distinct
// categories keeps the default min_markers=2 gate green.
var challengeOpeners = []string{
	"However, there is a risk that",
	"I disagree with the assumption that",
	"On the other hand, a key limitation is that",
	"We may have overlooked the tradeoff where",
}

// GenerateContribution generates a pseudo contribution for the persona.
func (p *Provider) GenerateContribution(ctx context.Context, req *provider.ContributionRequest) (*provider.ContributionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req == nil || req.Persona.Code == "" {
		return nil, fmt.Errorf("lorem provider: persona is required")
	}

	var b strings.Builder
	if req.ContributionType == "challenge" {
		opener := challengeOpeners[int(hash64(req.Persona.Code)%uint64(len(challengeOpeners)))]
		b.WriteString(opener)
		b.WriteString(" ")
		b.WriteString(p.generator.Sentence(6, 12))
		b.WriteString(" ")
	}
	b.WriteString(fmt.Sprintf("As %s, regarding %q: ", req.Persona.Role, req.SubProblemGoal))
	b.WriteString(p.generator.Paragraph(2, 4))

	text := b.String()
	words := len(strings.Fields(text))
	return &provider.ContributionResult{
		Text:       text,
		TokenCount: words,
		Cost:       float64(words) * 0.000002,
	}, nil
}

// GenerateText generates a pseudo completion.
func (p *Provider) GenerateText(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	if strings.TrimSpace(userPrompt) == "" {
		return "", "", fmt.Errorf("lorem provider: prompt cannot be empty")
	}
	if maxTokens <= 0 {
		maxTokens = 256
	}

	var b strings.Builder
	// Estimate: 1 token per word.
	for b.Len() == 0 || len(strings.Fields(b.String())) < maxTokens/8 {
		b.WriteString(p.generator.Sentence(5, 15))
		b.WriteString(" ")
	}
	return strings.TrimSpace(b.String()), "lorem-fast", nil
}

// Embedder is a deterministic mock embedder: a hashed bag-of-words vector,
// so texts sharing vocabulary score similar. Good enough to exercise cache
// and metric paths in tests and local development.
type Embedder struct {
	dims int
}

// NewEmbedder creates a mock embedder with the given dimensionality
// (default 256 when dims <= 0).
func NewEmbedder(dims int) *Embedder {
	if dims <= 0 {
		dims = 256
	}
	return &Embedder{dims: dims}
}

// Dimensions returns the embedding dimensionality.
func (e *Embedder) Dimensions() int { return e.dims }

// Embed produces a normalized hashed bag-of-words vector for the text.
func (e *Embedder) Embed(ctx context.Context, text string, kind provider.EmbeddingKind) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, &domain.EmbeddingError{Message: "cannot embed empty text"}
	}

	vec := make([]float32, e.dims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?\"'()")
		if word == "" {
			continue
		}
		vec[int(hash64(word)%uint64(e.dims))] += 1
	}

	var mag float64
	for _, v := range vec {
		mag += float64(v) * float64(v)
	}
	if mag == 0 {
		return nil, &domain.EmbeddingError{Message: "cannot embed empty text"}
	}
	norm := float32(math.Sqrt(mag))
	for i := range vec {
		vec[i] /= norm
	}
	return vec, nil
}

func hash64(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

package semantic

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// Embedder turns text into vectors. Documents and queries may be embedded
// differently by asymmetric models.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

const (
	// DefaultEmbeddingModel is the Gemini embedding model.
	DefaultEmbeddingModel = "gemini-embedding-001"
	// DefaultDimensions is the vector size requested from the model.
	DefaultDimensions = 768
)

// contentEmbedder is the subset of *genai.Models used here.
type contentEmbedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// GenAIEmbedder embeds with the Gemini API.
type GenAIEmbedder struct {
	models contentEmbedder
	model  string
	dims   int
}

// NewGenAIEmbedder creates an embedder. model defaults to
// DefaultEmbeddingModel.
func NewGenAIEmbedder(ctx context.Context, apiKey, model string) (*GenAIEmbedder, error) {
	if apiKey == "" {
		return nil, errors.New("semantic: genai api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: create genai client: %w", err)
	}
	return newGenAIEmbedder(client.Models, model), nil
}

func newGenAIEmbedder(m contentEmbedder, model string) *GenAIEmbedder {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &GenAIEmbedder{models: m, model: model, dims: DefaultDimensions}
}

// Dimensions returns the vector size.
func (e *GenAIEmbedder) Dimensions() int { return e.dims }

// EmbedDocuments embeds texts for storage, in one batch call.
func (e *GenAIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := e.embed(ctx, texts, "RETRIEVAL_DOCUMENT")
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("semantic: got %d embeddings for %d texts", len(vecs), len(texts))
	}
	return vecs, nil
}

// EmbedQuery embeds a search query.
func (e *GenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{text}, "RETRIEVAL_QUERY")
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, errors.New("semantic: no embedding returned")
	}
	return vecs[0], nil
}

func (e *GenAIEmbedder) embed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	dims := int32(e.dims)
	res, err := e.models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType:             task,
		OutputDimensionality: &dims,
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: embed %d texts: %w", len(texts), err)
	}
	out := make([][]float32, len(res.Embeddings))
	for i, emb := range res.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}

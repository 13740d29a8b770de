package assistant

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// DefaultModel is the Gemini model used for chat.
const DefaultModel = "gemini-2.5-flash"

// contentGenerator is the subset of *genai.Models used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiGenerator calls Gemini with Google Search and Google Maps grounding.
type GeminiGenerator struct {
	models contentGenerator
	model  string
}

// NewGeminiGenerator creates a generator. An empty apiKey is an error;
// callers that want the canned reply should pass a nil Generator instead.
func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, errors.New("assistant: gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("assistant: create genai client: %w", err)
	}
	return newGeminiGenerator(client.Models, model), nil
}

func newGeminiGenerator(m contentGenerator, model string) *GeminiGenerator {
	if model == "" {
		model = DefaultModel
	}
	return &GeminiGenerator{models: m, model: model}
}

// Generate implements Generator.
func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (Reply, error) {
	resp, err := g.models.GenerateContent(ctx, g.model, toContents(req.History, req.Prompt), generateConfig(req))
	if err != nil {
		return Reply{}, fmt.Errorf("gemini generate: %w", err)
	}
	if resp == nil {
		return Reply{}, errors.New("gemini generate: empty response")
	}
	return Reply{Text: resp.Text(), Grounding: groundingChunks(resp)}, nil
}

func toContents(history []Message, prompt string) []*genai.Content {
	out := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		var role genai.Role = genai.RoleUser
		if m.Role == RoleModel {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(m.Text, role))
	}
	return append(out, genai.NewContentFromText(prompt, genai.RoleUser))
}

func generateConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.SystemInstruction, genai.RoleUser),
		Tools: []*genai.Tool{
			{GoogleSearch: &genai.GoogleSearch{}},
			{GoogleMaps: &genai.GoogleMaps{}},
		},
	}
	if req.Location != nil {
		lat, lng := req.Location.Latitude, req.Location.Longitude
		cfg.ToolConfig = &genai.ToolConfig{
			RetrievalConfig: &genai.RetrievalConfig{
				LatLng: &genai.LatLng{Latitude: &lat, Longitude: &lng},
			},
		}
	}
	return cfg
}

func groundingChunks(resp *genai.GenerateContentResponse) []GroundingChunk {
	out := []GroundingChunk{}
	if len(resp.Candidates) == 0 || resp.Candidates[0].GroundingMetadata == nil {
		return out
	}
	for _, c := range resp.Candidates[0].GroundingMetadata.GroundingChunks {
		if c == nil {
			continue
		}
		var gc GroundingChunk
		if c.Web != nil {
			gc.Web = &GroundingSource{URI: c.Web.URI, Title: c.Web.Title}
		}
		if c.Maps != nil {
			gc.Maps = &GroundingSource{URI: c.Maps.URI, Title: c.Maps.Title}
		}
		if gc.Web == nil && gc.Maps == nil {
			continue
		}
		out = append(out, gc)
	}
	return out
}

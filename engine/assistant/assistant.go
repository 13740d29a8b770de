// Package assistant answers shopper questions through a generative model
// with web and maps grounding, optionally adding matching vendors from the
// local catalog to the instruction.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nashiklocalkart/localkart/engine/domain"
	"github.com/nashiklocalkart/localkart/pkg/fn"
	"github.com/nashiklocalkart/localkart/pkg/resilience"
)

// Role identifies who authored a chat message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// GroundingSource is a cited web page or map place.
type GroundingSource struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// GroundingChunk is passed through to clients as the model returned it.
type GroundingChunk struct {
	Web  *GroundingSource `json:"web,omitempty"`
	Maps *GroundingSource `json:"maps,omitempty"`
}

// Message is one turn of a conversation.
type Message struct {
	Role      Role             `json:"role"`
	Text      string           `json:"text"`
	Grounding []GroundingChunk `json:"grounding,omitempty"`
}

// Coordinates is the shopper's position, used as a maps retrieval hint.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Request is what a Generator receives.
type Request struct {
	SystemInstruction string
	History           []Message
	Prompt            string
	Location          *Coordinates
}

// Reply is the assistant's answer. Grounding is never nil.
type Reply struct {
	Text      string           `json:"text"`
	Grounding []GroundingChunk `json:"grounding"`
}

// Generator produces a reply from a model.
type Generator interface {
	Generate(ctx context.Context, req Request) (Reply, error)
}

// VendorLookup finds catalog vendors relevant to a question.
type VendorLookup interface {
	Lookup(ctx context.Context, query string, limit int) ([]domain.Vendor, error)
}

// SystemInstruction frames every conversation.
const SystemInstruction = `You are a helpful and friendly assistant for "Nashik LocalKart", a web application that helps users find local shops and services in Nashik, India.
Your primary goal is to answer user queries about vendors, their locations, services, and operating hours.
Use the provided tools (Google Search and Google Maps) to find the most accurate and up-to-date information.
If a user asks about a location, leverage the Google Maps tool, especially if the user has provided their current location.
Keep your answers concise and relevant.
If you can, respond in the language of the user's query (English or Marathi).`

// Canned replies returned instead of errors so the chat window always has
// something to show.
const (
	MissingKeyReply = "I'm sorry, but I'm unable to connect to my services right now as my API key is missing. Please contact the administrator."
	ErrorReply      = "I'm sorry, I encountered an error while processing your request. Please try again later."
)

// ErrEmptyPrompt is returned when the prompt is blank.
var ErrEmptyPrompt = errors.New("assistant: prompt is empty")

// Options tunes the service.
type Options struct {
	HistoryLimit  int           // messages of history kept, newest last
	CatalogLimit  int           // vendors added to the instruction
	LookupTimeout time.Duration // bound on the catalog lookup
	Retry         fn.RetryOpts
	Breaker       resilience.BreakerOpts
	Instruction   string
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{
		HistoryLimit:  6,
		CatalogLimit:  3,
		LookupTimeout: 3 * time.Second,
		Retry: fn.RetryOpts{
			MaxAttempts: 2,
			InitialWait: 500 * time.Millisecond,
			MaxWait:     2 * time.Second,
			Jitter:      true,
		},
		Breaker:     resilience.BreakerOpts{FailThreshold: 5, Timeout: 30 * time.Second, HalfOpenMax: 1},
		Instruction: SystemInstruction,
	}
}

// Service answers chat prompts. A nil Generator means no API key was
// configured.
type Service struct {
	gen     Generator
	lookup  VendorLookup
	breaker *resilience.Breaker
	opts    Options
	log     *slog.Logger
}

// New creates a Service. lookup may be nil.
func New(gen Generator, lookup VendorLookup, opts Options, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultOptions().HistoryLimit
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = 1
	}
	if opts.Instruction == "" {
		opts.Instruction = SystemInstruction
	}
	return &Service{
		gen:     gen,
		lookup:  lookup,
		breaker: resilience.NewBreaker(opts.Breaker),
		opts:    opts,
		log:     log,
	}
}

// Configured reports whether a model backend is available.
func (s *Service) Configured() bool { return s.gen != nil }

// BreakerState exposes the model circuit state for health reporting.
func (s *Service) BreakerState() resilience.State { return s.breaker.State() }

// Ask answers prompt in the context of history. Model failures are logged
// and turned into ErrorReply; only a blank prompt or an out of range
// location is an error.
func (s *Service) Ask(ctx context.Context, prompt string, history []Message, loc *Coordinates) (Reply, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Reply{}, ErrEmptyPrompt
	}
	if loc != nil {
		if l := (domain.Location{Lat: loc.Latitude, Lng: loc.Longitude}); !l.Valid() {
			return Reply{}, domain.NewValidationError("location", l.String(), domain.ErrInvalidLocation)
		}
	}
	if s.gen == nil {
		return Reply{Text: MissingKeyReply, Grounding: []GroundingChunk{}}, nil
	}

	req := Request{
		SystemInstruction: s.instruction(ctx, prompt),
		History:           lastN(history, s.opts.HistoryLimit),
		Prompt:            prompt,
		Location:          loc,
	}

	start := time.Now()
	res := fn.Retry(ctx, s.opts.Retry, func(ctx context.Context) fn.Result[Reply] {
		return fn.FromPair(resilience.Do(s.breaker, ctx, func(ctx context.Context) (Reply, error) {
			return s.gen.Generate(ctx, req)
		}))
	})
	reply, err := res.Unwrap()
	if err != nil {
		s.log.Error("assistant generate failed", "error", err, "duration", time.Since(start))
		return Reply{Text: ErrorReply, Grounding: []GroundingChunk{}}, nil
	}
	if reply.Grounding == nil {
		reply.Grounding = []GroundingChunk{}
	}
	s.log.Info("assistant reply",
		"prompt_len", len(prompt),
		"history", len(req.History),
		"grounding", len(reply.Grounding),
		"duration", time.Since(start),
	)
	return reply, nil
}

// instruction appends matching catalog vendors; lookup failures are logged
// and skipped.
func (s *Service) instruction(ctx context.Context, prompt string) string {
	if s.lookup == nil || s.opts.CatalogLimit <= 0 {
		return s.opts.Instruction
	}
	lctx := ctx
	if s.opts.LookupTimeout > 0 {
		var cancel context.CancelFunc
		lctx, cancel = context.WithTimeout(ctx, s.opts.LookupTimeout)
		defer cancel()
	}
	vendors, err := s.lookup.Lookup(lctx, prompt, s.opts.CatalogLimit)
	if err != nil {
		s.log.Warn("assistant catalog lookup failed, continuing without", "error", err)
		return s.opts.Instruction
	}
	return s.opts.Instruction + CatalogContext(vendors)
}

// CatalogContext renders vendors as an instruction appendix. Empty input
// yields "".
func CatalogContext(vendors []domain.Vendor) string {
	if len(vendors) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\nRegistered LocalKart vendors that may be relevant:\n")
	for _, v := range vendors {
		fmt.Fprintf(&b, "- %s (%s), %s. Hours: %s. Payment: %s.\n",
			v.ShopName, v.Category, v.Address, v.WorkingHours, strings.Join(v.PaymentMethods, ", "))
	}
	return b.String()
}

func lastN(history []Message, n int) []Message {
	if len(history) > n {
		history = history[len(history)-n:]
	}
	out := make([]Message, 0, len(history))
	for _, m := range history {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		if m.Role != RoleModel {
			m.Role = RoleUser
		}
		out = append(out, Message{Role: m.Role, Text: m.Text})
	}
	return out
}

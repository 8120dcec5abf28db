package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/probid/tender-radar/internal/models"
)

// Annotation is the structured output of the annotation model. It only
// carries advisory fields; deterministic scores are never touched by the
// model.
type Annotation struct {
	Summary          string   `json:"summary"`
	Risks            []string `json:"risks"`
	Categories       []string `json:"categories"`
	IncumbentMention string   `json:"incumbent_mention"`
}

// Store is the persistence slice enrichment writes through.
type Store interface {
	AnnotateSignals(ctx context.Context, id uuid.UUID, annotations map[string]interface{}) error
	SetEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error
}

// Enricher attaches model-generated annotations and embeddings to stored
// opportunities.
type Enricher struct {
	Client *OllamaClient
	Store  Store
}

// Enrich annotates and embeds one opportunity. Either half may fail
// independently; the other is still applied.
func (e *Enricher) Enrich(ctx context.Context, o *models.Opportunity) error {
	var firstErr error

	if ann, err := e.Annotate(ctx, o); err != nil {
		firstErr = err
	} else if err := e.Store.AnnotateSignals(ctx, o.ID, map[string]interface{}{"annotation": ann}); err != nil {
		firstErr = err
	}

	text := o.Title + "\n" + o.Description
	if emb, err := e.Client.GenerateEmbedding(ctx, text); err != nil {
		if firstErr == nil {
			firstErr = err
		}
	} else if len(emb) > 0 {
		if err := e.Store.SetEmbedding(ctx, o.ID, emb); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Annotate asks the model for a structured read of the opportunity text.
func (e *Enricher) Annotate(ctx context.Context, o *models.Opportunity) (*Annotation, error) {
	prompt := fmt.Sprintf(`You are a bid analyst. Read the following contract opportunity and respond with JSON.

Title: %s
Buyer: %s
Text:
%s

JSON Schema:
{
	"summary": "1-2 neutral sentences",
	"risks": ["string"],
	"categories": ["string", "1-3 tags"],
	"incumbent_mention": "supplier name if an incumbent is mentioned, else null"
}

Respond ONLY with the JSON object.`, o.Title, o.BuyerName, o.Description)

	resp, err := e.Client.GenerateCompletion(ctx, prompt, true)
	if err == nil {
		if ann, parseErr := parseAnnotation(resp); parseErr == nil {
			return ann, nil
		} else {
			log.Printf("enrich: json mode parse failed: %v, retrying in text mode", parseErr)
		}
	} else {
		log.Printf("enrich: json mode failed: %v, retrying in text mode", err)
	}

	resp, err = e.Client.GenerateCompletion(ctx, prompt, false)
	if err != nil {
		return nil, err
	}
	ann, err := parseAnnotation(resp)
	if err != nil {
		return nil, fmt.Errorf("parse annotation after retry: %w", err)
	}
	return ann, nil
}

func parseAnnotation(resp string) (*Annotation, error) {
	cleaned := strings.TrimSpace(resp)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	if jsonStr, ok := firstJSONObject(cleaned); ok {
		cleaned = jsonStr
	}

	var ann Annotation
	if err := json.Unmarshal([]byte(cleaned), &ann); err != nil {
		return nil, err
	}
	return &ann, nil
}

// firstJSONObject finds the first outermost balanced {...}, skipping
// braces inside string literals.
func firstJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = true
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}
	return "", false
}

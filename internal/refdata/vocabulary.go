// Package refdata fetches controlled vocabularies (isolation types, screened
// pathogens, fungal species) from the reference-data service and validates
// payloads before they reach selection lists.
package refdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Vocabulary names served by the reference-data service.
const (
	VocabIsolationTypes    = "culture_isolation_types"
	VocabScreenedPathogens = "culture_screened_pathogens"
	VocabFungalSpecies     = "pathogenic_fungi_mold"
)

// vocabularySchema constrains service payloads to a flat list of non-empty
// term strings. Anything else is treated as malformed reference data.
const vocabularySchema = `{
	"type": "object",
	"required": ["terms"],
	"properties": {
		"terms": {
			"type": "array",
			"items": {"type": "string", "minLength": 1}
		}
	}
}`

var compiledVocabularySchema = jsonschema.MustCompileString("vocabulary.json", vocabularySchema)

// MalformedError reports a vocabulary payload that failed schema validation.
// Callers degrade the affected field to free-text entry instead of failing
// the whole edit session.
type MalformedError struct {
	Vocabulary string
	Err        error
}

func (e MalformedError) Error() string {
	return fmt.Sprintf("refdata: malformed vocabulary %s: %v", e.Vocabulary, e.Err)
}

func (e MalformedError) Unwrap() error { return e.Err }

// Source provides controlled vocabulary terms by name.
type Source interface {
	Terms(ctx context.Context, vocabulary string) ([]string, error)
}

// HTTPSource fetches vocabularies from the reference-data service.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource constructs a source against the given service base URL.
func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Terms fetches and validates one vocabulary. Schema violations surface as
// MalformedError so the caller can degrade gracefully.
func (s *HTTPSource) Terms(ctx context.Context, vocabulary string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/vocabularies/"+vocabulary, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refdata: fetch %s: %w", vocabulary, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("refdata: fetch %s: unexpected status %d", vocabulary, resp.StatusCode)
	}

	var payload any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, MalformedError{Vocabulary: vocabulary, Err: err}
	}
	if err := compiledVocabularySchema.Validate(payload); err != nil {
		return nil, MalformedError{Vocabulary: vocabulary, Err: err}
	}

	obj := payload.(map[string]any)
	raw := obj["terms"].([]any)
	terms := make([]string, 0, len(raw))
	for _, t := range raw {
		terms = append(terms, t.(string))
	}
	return terms, nil
}

// StaticSource serves vocabularies from a fixed table. Intended for tests and
// offline environments.
type StaticSource struct {
	vocabularies map[string][]string
}

// NewStaticSource constructs a source over the provided vocabulary table.
func NewStaticSource(vocabularies map[string][]string) *StaticSource {
	if vocabularies == nil {
		vocabularies = map[string][]string{}
	}
	return &StaticSource{vocabularies: vocabularies}
}

// Terms returns the static term list for a vocabulary.
func (s *StaticSource) Terms(_ context.Context, vocabulary string) ([]string, error) {
	terms, ok := s.vocabularies[vocabulary]
	if !ok {
		return nil, fmt.Errorf("refdata: unknown vocabulary %s", vocabulary)
	}
	return append([]string(nil), terms...), nil
}

package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// ExtractionToolName names the forced tool backends use to return an
// Extraction when the provider has no native structured-output mode.
const ExtractionToolName = "report_prescription_medicines"

const extractionPromptHeader = `You are reading a photographed medical prescription for a pharmacy.
Identify every medicine name written on it.

Compare each name against the pharmacy inventory below, tolerating misspellings,
brand/generic variants and handwriting errors:
- If a medicine corresponds to an inventory entry, put the EXACT inventory name in "matches".
- Otherwise put the name as written on the prescription in "others".

Ignore dosages, frequencies and instructions. Return only medicine names.

Inventory:
`

// ExtractionPrompt renders the extraction instructions around the catalog
// name list.
func ExtractionPrompt(catalogNames []string) string {
	var b strings.Builder
	b.WriteString(extractionPromptHeader)
	for _, n := range catalogNames {
		b.WriteString("- ")
		b.WriteString(n)
		b.WriteByte('\n')
	}
	return b.String()
}

// ExtractionSchema returns a fresh copy of the JSON Schema for Extraction.
func ExtractionSchema() map[string]any {
	list := func(desc string) map[string]any {
		return map[string]any{
			"type":        "array",
			"description": desc,
			"items":       map[string]any{"type": "string"},
		}
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"matches": list("Exact inventory names of medicines found on the prescription."),
			"others":  list("Medicine names found on the prescription with no inventory equivalent."),
		},
		"required":             []string{"matches", "others"},
		"additionalProperties": false,
	}
}

var (
	extractionValidatorOnce sync.Once
	extractionValidator     *Validator
	extractionValidatorErr  error
)

// ParseExtraction validates raw against ExtractionSchema and decodes it.
// Any deviation from the schema is reported as ErrSchemaViolation; there is
// no partial recovery.
func ParseExtraction(raw []byte) (*Extraction, error) {
	extractionValidatorOnce.Do(func() {
		extractionValidator, extractionValidatorErr = NewValidator(ExtractionSchema())
	})
	if extractionValidatorErr != nil {
		return nil, fmt.Errorf("extraction schema: %w", extractionValidatorErr)
	}

	if err := extractionValidator.Validate(raw); err != nil {
		return nil, err
	}

	var out Extraction
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchemaViolation, err)
	}
	out.Matches = cleanNames(out.Matches)
	out.Others = cleanNames(out.Others)
	return &out, nil
}

func cleanNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

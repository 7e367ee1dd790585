package validation

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// SubmissionSchema is the JSON schema applied to submission payloads before a
// saga is initiated. Malformed submissions are rejected up front instead of
// failing halfway through the cross-service flow.
var SubmissionSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"applicantName": map[string]interface{}{
			"type":      "string",
			"minLength": 1,
		},
		"educationalStatus": map[string]interface{}{
			"type": "string",
			"enum": []string{"PROSPECTIVE_GRADUATE", "GRADUATE", "QUALIFICATION_EXAM"},
		},
		"applicationType": map[string]interface{}{
			"type": "string",
		},
		"telephoneNumber": map[string]interface{}{
			"type":    "string",
			"pattern": "^[0-9\\-]+$",
		},
	},
	"required":             []string{"applicantName", "educationalStatus"},
	"additionalProperties": true,
}

// Validate checks data against the given schema map and returns a single
// error listing every violation.
func Validate(data map[string]interface{}, schema map[string]interface{}) error {
	schemaLoader := gojsonschema.NewGoLoader(schema)
	documentLoader := gojsonschema.NewGoLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return fmt.Errorf("data validation failed: %v", errs)
	}

	return nil
}

// ValidateSubmission applies SubmissionSchema to a submission payload.
func ValidateSubmission(payload map[string]interface{}) error {
	return Validate(payload, SubmissionSchema)
}

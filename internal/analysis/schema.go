package analysis

import "github.com/joseph-ayodele/survey-docparser/internal/validate"

// operationSchema checks the envelope of a polling response before decoding.
var operationSchema = validate.MustCompile("analyze_operation", map[string]any{
	"type":     "object",
	"required": []string{"status"},
	"properties": map[string]any{
		"status": map[string]any{
			"type": "string",
			"enum": []string{StatusNotStarted, StatusRunning, StatusSucceeded, StatusFailed},
		},
		"error": map[string]any{
			"type": []string{"object", "null"},
		},
		"analyzeResult": map[string]any{
			"type": []string{"object", "null"},
			"properties": map[string]any{
				"modelId": map[string]any{"type": "string"},
				"documents": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"docType": map[string]any{"type": "string"},
							"fields":  map[string]any{"type": []string{"object", "null"}},
						},
					},
				},
			},
		},
	},
})

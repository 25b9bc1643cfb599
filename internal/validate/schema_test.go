package validate

import "testing"

func TestSchema_Bytes(t *testing.T) {
	s := MustCompile("pair", map[string]any{
		"type":     "object",
		"required": []string{"id", "text"},
		"properties": map[string]any{
			"id":   map[string]any{"type": "integer"},
			"text": map[string]any{"type": "string"},
		},
	})

	if err := s.Bytes([]byte(`{"id":1,"text":"Name?"}`)); err != nil {
		t.Fatalf("valid document rejected: %v", err)
	}
	if err := s.Bytes([]byte(`{"id":"1"}`)); err == nil {
		t.Fatal("expected schema violation")
	}
	if err := s.Bytes([]byte(`{`)); err == nil {
		t.Fatal("expected parse error")
	}
}

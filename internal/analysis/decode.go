package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Operation statuses reported by the service.
const (
	StatusNotStarted = "notStarted"
	StatusRunning    = "running"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
)

type wireOperation struct {
	Status        string          `json:"status"`
	Error         *OperationError `json:"error"`
	AnalyzeResult *wireAnalysis   `json:"analyzeResult"`
}

type wireAnalysis struct {
	APIVersion string         `json:"apiVersion"`
	ModelID    string         `json:"modelId"`
	Documents  []wireDocument `json:"documents"`
}

type wireDocument struct {
	DocType    string        `json:"docType"`
	Confidence float64       `json:"confidence"`
	Fields     orderedObject `json:"fields"`
}

type wireField struct {
	Type        string            `json:"type"`
	Content     *string           `json:"content"`
	Confidence  *float64          `json:"confidence"`
	ValueArray  []json.RawMessage `json:"valueArray"`
	ValueObject orderedObject     `json:"valueObject"`
}

type namedRaw struct {
	Name string
	Raw  json.RawMessage
}

// orderedObject decodes a JSON object keeping key order.
type orderedObject []namedRaw

func (o *orderedObject) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*o = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected object, got %v", tok)
	}
	out := orderedObject{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("expected key, got %v", keyTok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		out = append(out, namedRaw{Name: key, Raw: raw})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*o = out
	return nil
}

// Operation is a decoded polling response.
type Operation struct {
	Status string
	Error  *OperationError
	Result *Result
}

// OperationError is the service-reported reason for a failed operation.
type OperationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParseOperation decodes a polling response. Result is set only when the
// operation succeeded.
func ParseOperation(raw []byte) (*Operation, error) {
	if err := operationSchema.Bytes(raw); err != nil {
		return nil, err
	}
	var w wireOperation
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode operation: %w", err)
	}
	op := &Operation{Status: w.Status, Error: w.Error}
	if w.Status != StatusSucceeded {
		return op, nil
	}
	if w.AnalyzeResult == nil {
		return nil, fmt.Errorf("operation succeeded without analyzeResult")
	}
	res, err := convertAnalysis(w.AnalyzeResult)
	if err != nil {
		return nil, err
	}
	res.Raw = append(json.RawMessage(nil), raw...)
	op.Result = res
	return op, nil
}

// DecodeResult rebuilds a Result from a stored succeeded operation payload.
func DecodeResult(raw []byte) (*Result, error) {
	op, err := ParseOperation(raw)
	if err != nil {
		return nil, err
	}
	if op.Result == nil {
		return nil, fmt.Errorf("stored operation has status %q", op.Status)
	}
	return op.Result, nil
}

func convertAnalysis(w *wireAnalysis) (*Result, error) {
	res := &Result{ModelID: w.ModelID, APIVersion: w.APIVersion}
	for i, d := range w.Documents {
		fields, err := convertObject(d.Fields)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		res.Documents = append(res.Documents, Document{
			DocType:    d.DocType,
			Confidence: d.Confidence,
			Fields:     fields,
		})
	}
	return res, nil
}

func convertObject(obj orderedObject) ([]Field, error) {
	fields := make([]Field, 0, len(obj))
	for _, nr := range obj {
		f, err := convertField(nr.Name, nr.Raw)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func convertField(name string, raw json.RawMessage) (Field, error) {
	f := Field{Name: name, Kind: KindScalar}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return f, nil
	}
	var w wireField
	if err := json.Unmarshal(raw, &w); err != nil {
		return Field{}, fmt.Errorf("field %q: %w", name, err)
	}
	f.Type = w.Type
	f.Content = w.Content
	if w.Confidence != nil {
		f.Confidence = *w.Confidence
	}
	switch w.Type {
	case "array":
		f.Kind = KindList
		for i, item := range w.ValueArray {
			child, err := convertField(strconv.Itoa(i), item)
			if err != nil {
				return Field{}, fmt.Errorf("%s: %w", name, err)
			}
			f.Items = append(f.Items, child)
		}
	case "object":
		f.Kind = KindMap
		entries, err := convertObject(w.ValueObject)
		if err != nil {
			return Field{}, fmt.Errorf("%s: %w", name, err)
		}
		f.Entries = entries
	}
	return f, nil
}

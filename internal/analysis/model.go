// Package analysis talks to the document analysis service and exposes its
// result as an ordered tree of named fields.
package analysis

import (
	"encoding/json"
	"strconv"
)

// FieldKind classifies a field node.
type FieldKind string

const (
	KindScalar FieldKind = "scalar"
	KindList   FieldKind = "list"
	KindMap    FieldKind = "map"
)

// Field is one node of a document's field tree. Entries of a map keep the
// order in which the service returned them.
type Field struct {
	Name       string
	Type       string // type reported by the service: string, number, array, object, ...
	Kind       FieldKind
	Content    *string
	Confidence float64
	Items      []Field // KindList
	Entries    []Field // KindMap
}

// ContentOr returns the field content, or def when the content is null.
func (f Field) ContentOr(def string) string {
	if f.Content == nil {
		return def
	}
	return *f.Content
}

// Document is one document detected inside an analysis result.
type Document struct {
	DocType    string
	Confidence float64
	Fields     []Field
}

// Field returns the top-level field with the given name.
func (d Document) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Walk visits every field depth-first, passing a dotted path.
func (d Document) Walk(fn func(path string, f Field)) {
	for _, f := range d.Fields {
		walk(f.Name, f, fn)
	}
}

func walk(path string, f Field, fn func(string, Field)) {
	fn(path, f)
	for i, item := range f.Items {
		walk(path+"["+strconv.Itoa(i)+"]", item, fn)
	}
	for _, e := range f.Entries {
		walk(path+"."+e.Name, e, fn)
	}
}

// Result is a completed analysis.
type Result struct {
	ModelID    string
	APIVersion string
	Documents  []Document
	// Raw is the final operation payload, kept for replay.
	Raw json.RawMessage
}

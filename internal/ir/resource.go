package ir

import "fmt"

// ResourceRecord is one tracked infrastructure object, either desired
// (Attributes set, Outputs empty) or recorded in state (Outputs filled by the
// provisioner).
type ResourceRecord struct {
	Type       string         `json:"type"` // e.g. "aws.s3.Bucket"
	Name       string         `json:"name"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	DependsOn  []string       `json:"dependsOn,omitempty"`
}

// Address returns the stable identifier of a record (type.name), unique
// within a document or desired graph.
func (r *ResourceRecord) Address() string {
	return fmt.Sprintf("%s.%s", r.Type, r.Name)
}

// Clone returns a deep copy of the record. State documents written by the
// coordinator never alias caller-owned maps.
func (r *ResourceRecord) Clone() *ResourceRecord {
	out := &ResourceRecord{
		Type:       r.Type,
		Name:       r.Name,
		Attributes: cloneMap(r.Attributes),
		Outputs:    cloneMap(r.Outputs),
	}
	if len(r.DependsOn) > 0 {
		out.DependsOn = append([]string(nil), r.DependsOn...)
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return val
	}
}

// Graph is the caller-supplied target set of resources, independent of what
// currently exists. It arrives already parsed; stately does not read
// configuration languages.
type Graph struct {
	Resources []*ResourceRecord `json:"resources"`
	Outputs   map[string]any    `json:"outputs,omitempty"`
}

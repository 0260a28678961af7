package ir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceRecord_Address(t *testing.T) {
	r := &ResourceRecord{Type: "aws.s3.Bucket", Name: "assets"}
	assert.Equal(t, "aws.s3.Bucket.assets", r.Address())
}

func TestResourceRecord_CloneIsDeep(t *testing.T) {
	original := &ResourceRecord{
		Type: "test.Resource",
		Name: "a",
		Attributes: map[string]any{
			"tags": map[string]any{"env": "dev"},
			"list": []any{"one", "two"},
		},
		Outputs:   map[string]any{"id": "x"},
		DependsOn: []string{"test.Resource.b"},
	}

	clone := original.Clone()
	require.Equal(t, original, clone)

	clone.Attributes["tags"].(map[string]any)["env"] = "prod"
	clone.Attributes["list"].([]any)[0] = "mutated"
	clone.Outputs["id"] = "y"
	clone.DependsOn[0] = "test.Resource.c"

	assert.Equal(t, "dev", original.Attributes["tags"].(map[string]any)["env"])
	assert.Equal(t, "one", original.Attributes["list"].([]any)[0])
	assert.Equal(t, "x", original.Outputs["id"])
	assert.Equal(t, "test.Resource.b", original.DependsOn[0])
}

func TestStateDocument_Validate(t *testing.T) {
	doc := &StateDocument{
		Resources: []*ResourceRecord{
			{Type: "test.Resource", Name: "a"},
			{Type: "test.Resource", Name: "b"},
		},
	}
	assert.NoError(t, doc.Validate())

	doc.Resources = append(doc.Resources, &ResourceRecord{Type: "test.Resource", Name: "a"})
	err := doc.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate resource address")
}

func TestStateDocument_Resource(t *testing.T) {
	doc := &StateDocument{
		Resources: []*ResourceRecord{
			{Type: "test.Resource", Name: "a"},
		},
	}
	assert.NotNil(t, doc.Resource("test.Resource.a"))
	assert.Nil(t, doc.Resource("test.Resource.missing"))
}

func TestNewStateDocument(t *testing.T) {
	doc := NewStateDocument()
	assert.Equal(t, int64(0), doc.Version)
	assert.Equal(t, int64(0), doc.Serial)
	assert.Empty(t, doc.Resources)
}

func TestPlan_Changes(t *testing.T) {
	p := &Plan{Summary: &PlanSummary{}}
	assert.False(t, p.Changes())

	p.Operations = append(p.Operations, &Operation{Address: "test.Resource.a", Action: ActionCreate})
	assert.True(t, p.Changes())
}

func TestLockEntry_Expired(t *testing.T) {
	now := time.Now()
	entry := &LockEntry{ExpiresAt: now.Add(time.Minute)}
	assert.False(t, entry.Expired(now))
	assert.True(t, entry.Expired(now.Add(2*time.Minute)))
}

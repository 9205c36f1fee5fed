package gemini

import (
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/inference"
)

func TestToGenaiSchema(t *testing.T) {
	in := &inference.Schema{
		Type: inference.TypeObject,
		Properties: map[string]*inference.Schema{
			"queries": {Type: inference.TypeArray, Items: &inference.Schema{Type: inference.TypeString}},
			"stance":  {Type: inference.TypeString, Enum: []string{"support", "skeptic"}},
		},
		Required: []string{"queries"},
	}

	out := toGenaiSchema(in)
	require.NotNil(t, out)
	assert.Equal(t, genai.TypeObject, out.Type)
	assert.Equal(t, []string{"queries"}, out.Required)
	assert.Equal(t, genai.TypeArray, out.Properties["queries"].Type)
	assert.Equal(t, genai.TypeString, out.Properties["queries"].Items.Type)
	assert.Equal(t, "enum", out.Properties["stance"].Format)
	assert.Nil(t, toGenaiSchema(nil))
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences(` {"a":1} `))
}

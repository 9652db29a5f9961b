package advisor

import (
	"context"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLang(t *testing.T) {
	assert.Equal(t, "hi", NormalizeLang(" HI "))
	assert.Equal(t, "ta", NormalizeLang("ta"))
	assert.Equal(t, "en", NormalizeLang("fr"))
	assert.Equal(t, "en", NormalizeLang(""))
	assert.Equal(t, "Gujarati", LanguageName("gu"))
	assert.Equal(t, "English", LanguageName("xx"))
}

func TestNewGeminiRequiresKey(t *testing.T) {
	_, err := NewGemini(context.Background(), "  ", "gemini-1.5-flash", time.Second, nil)
	assert.ErrorContains(t, err, "LEAFLENS_ADVISOR_API_KEY")
}

func TestPrompt(t *testing.T) {
	p := Prompt("Tomato", "Tomato_Late_blight", "ta")
	assert.Contains(t, p, "Plant: Tomato\n")
	assert.Contains(t, p, "Disease: Tomato_Late_blight")
	assert.Contains(t, p, "expected_yield")
	assert.Contains(t, p, "respond in Tamil")
}

func TestParseAdvice(t *testing.T) {
	raw := "<think>ok</think>\n```json\n{\"disease_type\":\"Fungal\",\"symptoms\":\"dark lesions\",\"prevention\":\"rotate crops\"," +
		"\"treatments\":\"copper spray\",\"fertilizers\":\"potash\",\"expected_yield\":\"-20%\"}\n```"
	advice, err := ParseAdvice(raw)
	require.NoError(t, err)
	assert.Equal(t, "Fungal", advice.DiseaseType)
	assert.Equal(t, "copper spray", advice.Treatments)
	assert.Equal(t, "-20%", advice.ExpectedYield)

	_, err = ParseAdvice("no json here")
	assert.ErrorContains(t, err, "no JSON object")

	_, err = ParseAdvice("{not json}")
	assert.ErrorContains(t, err, "bad JSON")
}

func TestFirstText(t *testing.T) {
	assert.Empty(t, firstText(nil))

	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []genai.Part{genai.Text("  ")}}},
			{Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"a":`), genai.Text(`1}`)}}},
		},
	}
	assert.Equal(t, `{"a":1}`, firstText(resp))
}

// Package advisor produces treatment guidance for a detected leaf disease.
package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Brownie44l1/leaflens-api/internal/model"
	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

var languages = map[string]string{
	"en": "English",
	"hi": "Hindi",
	"ta": "Tamil",
	"gu": "Gujarati",
}

// NormalizeLang maps unknown or empty language codes to "en".
func NormalizeLang(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if _, ok := languages[code]; ok {
		return code
	}
	return "en"
}

func LanguageName(code string) string {
	return languages[NormalizeLang(code)]
}

type Advisor interface {
	Advise(ctx context.Context, plant, disease, lang string) (*model.Advice, error)
}

type Gemini struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	log     *zap.Logger
}

func NewGemini(ctx context.Context, apiKey, modelName string, timeout time.Duration, log *zap.Logger) (*Gemini, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("advisor.api_key (LEAFLENS_ADVISOR_API_KEY) is empty")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Gemini{
		client:  client,
		model:   strings.TrimSpace(modelName),
		timeout: timeout,
		log:     log,
	}, nil
}

func (g *Gemini) Advise(ctx context.Context, plant, disease, lang string) (*model.Advice, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	m := g.client.GenerativeModel(g.model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0.2),
		ResponseMIMEType: "application/json",
	}

	start := time.Now()
	resp, err := m.GenerateContent(ctx, genai.Text(Prompt(plant, disease, lang)))
	if err != nil {
		return nil, fmt.Errorf("gemini advise: %w", err)
	}
	txt := firstText(resp)
	if txt == "" {
		return nil, errors.New("gemini advise: empty response")
	}

	advice, err := ParseAdvice(txt)
	if err != nil {
		g.log.Error("invalid advisor response", zap.String("raw", txt), zap.Error(err))
		return nil, err
	}
	g.log.Debug("advice generated",
		zap.String("disease", disease),
		zap.String("lang", lang),
		zap.Duration("cost", time.Since(start)))
	return advice, nil
}

func (g *Gemini) Close() error {
	return g.client.Close()
}

// Prompt asks for a raw JSON object with the Advice keys.
func Prompt(plant, disease, lang string) string {
	return fmt.Sprintf("Plant: %s\nDisease: %s\n\n"+
		"Respond ONLY with a raw JSON object. Do not include explanations or extra text.\n"+
		"The JSON must have these keys:\n"+
		"  disease_type, symptoms, prevention, treatments, fertilizers, expected_yield\n"+
		"Every value must be a string.\n"+
		"Please respond in %s.", plant, disease, LanguageName(lang))
}

// ParseAdvice extracts the outermost JSON object from a model reply.
func ParseAdvice(raw string) (*model.Advice, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return nil, errors.New("advisor: no JSON object in response")
	}

	var advice model.Advice
	if err := json.Unmarshal([]byte(raw[start:end+1]), &advice); err != nil {
		return nil, fmt.Errorf("advisor: bad JSON: %w", err)
	}
	return &advice, nil
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		var b strings.Builder
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		if s := strings.TrimSpace(b.String()); s != "" {
			return s
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }

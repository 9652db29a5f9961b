package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopK(t *testing.T) {
	tests := []struct {
		name   string
		scores []float32
		labels []string
		want   []Prediction
	}{
		{
			name:   "three classes",
			scores: []float32{0.7, 0.2, 0.1},
			labels: []string{"healthy", "blight", "rust"},
			want:   []Prediction{{"healthy", 70}, {"blight", 20}, {"rust", 10}},
		},
		{
			name:   "sorted descending",
			scores: []float32{0.05, 0.1, 0.6, 0.25},
			labels: []string{"a", "b", "c", "d"},
			want:   []Prediction{{"c", 60}, {"d", 25}, {"b", 10}},
		},
		{
			name:   "ties keep label order",
			scores: []float32{0.25, 0.25, 0.25, 0.25},
			labels: []string{"a", "b", "c", "d"},
			want:   []Prediction{{"a", 25}, {"b", 25}, {"c", 25}},
		},
		{
			name:   "fewer classes than k",
			scores: []float32{0.4, 0.6},
			labels: []string{"a", "b"},
			want:   []Prediction{{"b", 60}, {"a", 40}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TopK(tt.scores, tt.labels, 3)
			require.NoError(t, err)
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.Equal(t, tt.want[i].Label, got[i].Label)
				assert.InDelta(t, tt.want[i].Score, got[i].Score, 1e-4)
			}
		})
	}
}

func TestTopKPercentagesAreExact(t *testing.T) {
	got, err := TopK([]float32{0.7, 0.2, 0.1}, []string{"healthy", "blight", "rust"}, 3)
	require.NoError(t, err)
	assert.Equal(t, []Prediction{{"healthy", 70}, {"blight", 20}, {"rust", 10}}, got)

	data, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"label":"healthy","score":70},{"label":"blight","score":20},{"label":"rust","score":10}]`, string(data))
}

func TestTopKLengthMismatch(t *testing.T) {
	_, err := TopK([]float32{0.5, 0.5}, []string{"a"}, 3)
	assert.ErrorIs(t, err, ErrOutputMismatch)
}

func TestAnalyze(t *testing.T) {
	scores := make([]float32, len(DefaultClasses))
	scores[7] = 0.8
	scores[6] = 0.15
	scores[14] = 0.05

	a, err := Analyze(scores, DefaultClasses)
	require.NoError(t, err)
	assert.Equal(t, "Tomato_Late_blight", a.Predicted)
	assert.Equal(t, "Tomato", a.Plant)
	assert.Equal(t, 80.0, a.Confidence)
	require.Len(t, a.Top3, 3)
	assert.Equal(t, "Tomato_Early_blight", a.Top3[1].Label)
	assert.Equal(t, "Tomato_healthy", a.Top3[2].Label)
}

func TestPlantName(t *testing.T) {
	assert.Equal(t, "Pepper", PlantName("Pepper_bell_Bacterial_spot"))
	assert.Equal(t, "Pepperbell", PlantName("Pepperbell_healthy"))
	assert.Equal(t, "healthy", PlantName("healthy"))
}

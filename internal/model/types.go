package model

// Layouts accepted in Metadata.Layout.
const (
	LayoutNHWC = "nhwc"
	LayoutNCHW = "nchw"
)

type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
	Layout      string   `json:"layout"`
	InputName   string   `json:"input_name"`
	OutputName  string   `json:"output_name"`
}

// DefaultClasses is the label order of the bundled plant leaf disease model.
var DefaultClasses = []string{
	"Pepper_bell_Bacterial_spot",
	"Pepperbell_healthy",
	"Potato_Early_blight",
	"Potato_Late_blight",
	"Potato_healthy",
	"Tomato_Bacterial_spot",
	"Tomato_Early_blight",
	"Tomato_Late_blight",
	"Tomato_Leaf_Mold",
	"Tomato_Septoria_leaf_spot",
	"Tomato_Spider_mites_Two_spotted_spider_mite",
	"TomatoTarget_Spot",
	"TomatoTomato_YellowLeafCurl_Virus",
	"Tomato_Tomato_mosaic_virus",
	"Tomato_healthy",
}

// DefaultMetadata describes the bundled 256x256 NHWC plant model.
func DefaultMetadata() Metadata {
	classes := make([]string, len(DefaultClasses))
	copy(classes, DefaultClasses)
	return Metadata{
		InputShape:  []int64{1, 256, 256, 3},
		OutputShape: []int64{1, int64(len(classes))},
		Classes:     classes,
		ImageSize:   256,
		Layout:      LayoutNHWC,
		InputName:   "input",
		OutputName:  "output",
	}
}

// InputSize is the number of values one input tensor holds.
func (m Metadata) InputSize() int {
	if len(m.InputShape) == 0 {
		return 0
	}
	n := 1
	for _, dim := range m.InputShape {
		n *= int(dim)
	}
	return n
}

type PredictionRequest struct {
	Image []float32 `json:"image"`
}

// Prediction is one label of a top-k view. Score is a percentage.
type Prediction struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Advice is the agronomic guidance attached to an analysis.
type Advice struct {
	DiseaseType   string `json:"disease_type"`
	Symptoms      string `json:"symptoms"`
	Prevention    string `json:"prevention"`
	Treatments    string `json:"treatments"`
	Fertilizers   string `json:"fertilizers"`
	ExpectedYield string `json:"expected_yield"`
}

type Analysis struct {
	MD5        string       `json:"md5,omitempty"`
	Lang       string       `json:"lang,omitempty"`
	Predicted  string       `json:"predicted"`
	Confidence float64      `json:"confidence"`
	Plant      string       `json:"plant"`
	Top3       []Prediction `json:"top3"`
	Advice     *Advice      `json:"advice,omitempty"`
	Timestamp  int64        `json:"timestamp"`
}

type AnalysisResponse struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	Data    *Analysis `json:"data,omitempty"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

package fish

import "time"

// Measurements are free-text magnitudes as returned by the model, e.g. "30-40 cm".
type Measurements struct {
	EstimatedLength string `json:"estimatedLength"`
	EstimatedWeight string `json:"estimatedWeight"`
	BodyDepth       string `json:"bodyDepth"`
}

// SimilarSpecies is one look-alike candidate with the model's confidence.
type SimilarSpecies struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// AnalysisRecord is the normalized result of a fish image analysis.
// It lives for one request only and is never written to a database.
type AnalysisRecord struct {
	CommonName         string           `json:"commonName"`
	Species            string           `json:"species"`
	Confidence         float64          `json:"confidence"`
	Family             string           `json:"family"`
	Habitat            string           `json:"habitat"`
	Characteristics    []string         `json:"characteristics"`
	Measurements       Measurements     `json:"measurements"`
	Distribution       string           `json:"distribution"`
	ConservationStatus string           `json:"conservationStatus"`
	CommercialValue    string           `json:"commercialValue"`
	SimilarSpecies     []SimilarSpecies `json:"similarSpecies"`
}

// UploadedImage describes an image persisted by the ingress step.
type UploadedImage struct {
	Filename     string    `json:"filename"`
	OriginalName string    `json:"original_name,omitempty"`
	Path         string    `json:"path"`
	URL          string    `json:"url"`
	MIMEType     string    `json:"mime_type"`
	Size         int64     `json:"size"`
	StoredAt     time.Time `json:"stored_at"`
}

// ReportArtifact is a rendered report on disk.
type ReportArtifact struct {
	Filename  string    `json:"filename"`
	Path      string    `json:"path"`
	URL       string    `json:"url"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

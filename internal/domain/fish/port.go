package fish

import (
	"context"
	"io"
)

// ImageStore persists uploaded images.
type ImageStore interface {
	SaveImage(ctx context.Context, originalName string, r io.Reader) (UploadedImage, error)
}

// Analyzer turns a stored image into an AnalysisRecord via an external model.
type Analyzer interface {
	AnalyzeImage(ctx context.Context, img UploadedImage) (AnalysisRecord, error)
}

// ReportGenerator renders a record into a report file.
type ReportGenerator interface {
	Generate(ctx context.Context, rec AnalysisRecord) (ReportArtifact, error)
}

// ArtifactMirror copies a stored file to secondary storage and returns its URL.
type ArtifactMirror interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
}

package fish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/lokesh-guntreddi/oceanographic/internal/application"
	domain "github.com/lokesh-guntreddi/oceanographic/internal/domain/fish"
	"github.com/lokesh-guntreddi/oceanographic/internal/domain/runs"
)

const maxJournalMessage = 512

// Observer receives one event per pipeline pass.
type Observer interface {
	ObserveRun(kind, status, errorKind string, d time.Duration)
}

// Service implements the upload/analyze and export use cases.
// Each call is independent; the service holds no per-request state.
type Service struct {
	Images   domain.ImageStore
	Analyzer domain.Analyzer
	Reports  domain.ReportGenerator
	Mirror   domain.ArtifactMirror // optional, nil disables mirroring
	Runs     runs.Repository
	Observer Observer
	Clock    application.Clock
}

// AnalyzeResult is what the upload endpoint returns on success.
type AnalyzeResult struct {
	Image    domain.UploadedImage
	Analysis domain.AnalysisRecord
}

// UploadAndAnalyze stores the image, runs one analysis and normalizes the result.
func (s *Service) UploadAndAnalyze(ctx context.Context, originalName string, r io.Reader) (res AnalyzeResult, err error) {
	start := s.now()
	defer func() { s.finish(ctx, runs.KindAnalyze, start, err) }()

	if r == nil {
		return AnalyzeResult{}, fmt.Errorf("%w: no file uploaded", domain.ErrMissingInput)
	}

	img, err := s.Images.SaveImage(ctx, originalName, r)
	if err != nil {
		return AnalyzeResult{}, err
	}
	slog.Info("image stored", "file", img.Filename, "original", img.OriginalName, "mime", img.MIMEType, "size", img.Size)
	s.mirror(ctx, img.Path, path.Join("uploads", img.Filename))

	rec, err := s.Analyzer.AnalyzeImage(ctx, img)
	if err != nil {
		return AnalyzeResult{}, err
	}
	return AnalyzeResult{Image: img, Analysis: domain.Normalize(rec)}, nil
}

// Export renders a client supplied record. The payload is validated strictly
// since it never passed through the analyzer on this request.
func (s *Service) Export(ctx context.Context, raw []byte) (art domain.ReportArtifact, err error) {
	start := s.now()
	defer func() { s.finish(ctx, runs.KindExport, start, err) }()

	rec, err := domain.DecodeStrict(raw)
	if err != nil {
		return domain.ReportArtifact{}, err
	}
	art, err = s.Reports.Generate(ctx, domain.Normalize(rec))
	if err != nil {
		return domain.ReportArtifact{}, err
	}
	slog.Info("report generated", "file", art.Filename, "size", art.Size)
	s.mirror(ctx, art.Path, path.Join("reports", art.Filename))
	return art, nil
}

// mirror failures are logged only; the local copy is authoritative.
func (s *Service) mirror(ctx context.Context, localPath, key string) {
	if s.Mirror == nil {
		return
	}
	url, err := s.Mirror.Upload(ctx, localPath, key)
	if err != nil {
		slog.Warn("artifact mirror upload failed", "key", key, "error", err)
		return
	}
	slog.Debug("artifact mirrored", "key", key, "url", url)
}

func (s *Service) finish(ctx context.Context, kind runs.Kind, start time.Time, err error) {
	elapsed := s.now().Sub(start)
	run := &runs.Run{
		ID:         runs.RunID(uuid.NewString()),
		Kind:       kind,
		Status:     runs.StatusSuccess,
		DurationMS: elapsed.Milliseconds(),
		CreatedAt:  start,
	}
	if err != nil {
		run.Status = runs.StatusFailed
		run.ErrorKind = string(domain.KindOf(err))
		run.Message = journalMessage(err)
		slog.Warn("pipeline run failed", "kind", kind, "error_kind", run.ErrorKind, "error", err)
	}

	if s.Observer != nil {
		s.Observer.ObserveRun(string(run.Kind), string(run.Status), run.ErrorKind, elapsed)
	}
	if s.Runs == nil {
		return
	}
	// the request context may already be cancelled; the journal write should still happen
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if jerr := s.Runs.Save(jctx, run); jerr != nil {
		slog.Error("failed to journal pipeline run", "id", run.ID, "error", jerr)
	}
}

// journalMessage keeps file locations out of the journal; storage errors
// usually embed a path.
func journalMessage(err error) string {
	if errors.Is(err, domain.ErrStorage) {
		return domain.ErrStorage.Error()
	}
	msg := err.Error()
	if len(msg) <= maxJournalMessage {
		return msg
	}
	cut := maxJournalMessage
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock.Now()
}

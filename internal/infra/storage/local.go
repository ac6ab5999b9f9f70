package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lokesh-guntreddi/oceanographic/internal/domain/fish"
)

const sniffLen = 512

// ErrTooLarge is returned when an upload exceeds the configured limit.
var ErrTooLarge = errors.New("file too large")

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
}

// LocalImages stores uploads on disk under Dir and serves them below URLPrefix.
type LocalImages struct {
	Dir       string
	URLPrefix string
	MaxBytes  int64
	Now       func() time.Time
}

var _ fish.ImageStore = (*LocalImages)(nil)

func NewLocalImages(dir, urlPrefix string, maxBytes int64) (*LocalImages, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir %s: %w", dir, err)
	}
	return &LocalImages{Dir: dir, URLPrefix: urlPrefix, MaxBytes: maxBytes, Now: time.Now}, nil
}

// SaveImage sniffs the payload, rejects non-images and writes it under an
// opaque name. The client filename is only kept as metadata.
func (s *LocalImages) SaveImage(ctx context.Context, originalName string, r io.Reader) (fish.UploadedImage, error) {
	br := bufio.NewReaderSize(r, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return fish.UploadedImage{}, fmt.Errorf("%w: read upload: %v", fish.ErrStorage, err)
	}
	if len(head) == 0 {
		return fish.UploadedImage{}, fmt.Errorf("%w: uploaded file is empty", fish.ErrMissingInput)
	}
	mime := http.DetectContentType(head)
	ext, ok := imageExtensions[mime]
	if !ok {
		return fish.UploadedImage{}, fmt.Errorf("%w: unsupported file type %s", fish.ErrInvalidInput, mime)
	}

	name := uuid.NewString() + ext
	dst := filepath.Join(s.Dir, name)
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fish.UploadedImage{}, fmt.Errorf("%w: create %s: %v", fish.ErrStorage, name, err)
	}

	var src io.Reader = br
	if s.MaxBytes > 0 {
		src = io.LimitReader(br, s.MaxBytes+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && s.MaxBytes > 0 && n > s.MaxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		os.Remove(dst)
		if errors.Is(err, ErrTooLarge) {
			return fish.UploadedImage{}, fmt.Errorf("%w: %v (limit %d bytes)", fish.ErrInvalidInput, err, s.MaxBytes)
		}
		return fish.UploadedImage{}, fmt.Errorf("%w: write %s: %v", fish.ErrStorage, name, err)
	}

	return fish.UploadedImage{
		Filename:     name,
		OriginalName: filepath.Base(originalName),
		Path:         dst,
		URL:          publicURL(s.URLPrefix, name),
		MIMEType:     mime,
		Size:         n,
		StoredAt:     s.Now(),
	}, nil
}

func publicURL(prefix, name string) string {
	return path.Join("/", strings.Trim(prefix, "/"), name)
}

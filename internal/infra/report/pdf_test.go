package report

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokesh-guntreddi/oceanographic/internal/domain/fish"
)

func sardine() fish.AnalysisRecord {
	return fish.AnalysisRecord{
		CommonName:      "Oil Sardine",
		Species:         "Sardinella longiceps",
		Confidence:      87,
		Family:          "Clupeidae",
		Habitat:         "Coastal pelagic waters",
		Characteristics: []string{"Elongated body", "Golden lateral stripe"},
		Measurements: fish.Measurements{
			EstimatedLength: "15-20 cm",
			EstimatedWeight: "100-150 g",
			BodyDepth:       "3-4 cm",
		},
		Distribution:       "Western Indian Ocean",
		ConservationStatus: "Least Concern",
		CommercialValue:    "High",
		SimilarSpecies: []fish.SimilarSpecies{
			{Name: "Sardinella fimbriata", Confidence: 12.5},
		},
	}
}

func TestGenerateWritesReport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "static", "reports")
	g := NewGenerator(dir, "/static/reports")

	art, err := g.Generate(context.Background(), sardine())
	require.NoError(t, err)

	assert.DirExists(t, dir)
	assert.True(t, strings.HasPrefix(art.URL, "/static/reports/fish_report_"))
	assert.True(t, strings.HasSuffix(art.URL, ".pdf"))
	assert.Equal(t, filepath.Join(dir, art.Filename), art.Path)

	data, err := os.ReadFile(art.Path)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.Equal(t, int64(len(data)), art.Size)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
	assert.Contains(t, string(data), "Oil Sardine")
	assert.Contains(t, string(data), "Sardinella longiceps")
	assert.Contains(t, string(data), "Golden lateral stripe")
}

func TestGenerateTwiceGivesDistinctFilesSameContent(t *testing.T) {
	g := NewGenerator(t.TempDir(), "/static/reports")
	fixed := time.UnixMilli(1717171717171)
	g.Now = func() time.Time { return fixed }

	a, err := g.Generate(context.Background(), sardine())
	require.NoError(t, err)
	b, err := g.Generate(context.Background(), sardine())
	require.NoError(t, err)

	assert.NotEqual(t, a.Path, b.Path)

	da, err := os.ReadFile(a.Path)
	require.NoError(t, err)
	db, err := os.ReadFile(b.Path)
	require.NoError(t, err)
	assert.Equal(t, da, db)
}

func TestRenderEmptySequences(t *testing.T) {
	rec := fish.AnalysisRecord{CommonName: "Unknown", Species: "Teleostei sp."}

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, rec))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
	assert.Contains(t, buf.String(), `"characteristics":[]`)
	assert.Contains(t, buf.String(), `"similarSpecies":[]`)
	assert.Contains(t, buf.String(), "Teleostei sp.")
}

func TestRenderKeepsNamesVerbatim(t *testing.T) {
	tests := []struct {
		name    string
		common  string
		species string
	}{
		{"parentheses", "Hilsa (Ilish)", "Tenualosa ilisha"},
		{"latin accents", "Bacalhau Açu", "Gadus morhua"},
		{"bengali script", "Ilish ইলিশ", "Tenualosa ilisha"},
		{"markup characters", "Sardine <b>&amp;</b> \"oil\"", "Sardinella longiceps"},
		{"long species", "Goldstripe Sardinella", strings.Repeat("Sardinella gibbosa var. longissima ", 6)},
		{"astral plane", "Sardine 🐟", "Sardinella longiceps"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := sardine()
			rec.CommonName = tt.common
			rec.Species = tt.species

			var buf bytes.Buffer
			require.NoError(t, Render(&buf, rec))
			assert.True(t, bytes.Contains(buf.Bytes(), []byte(tt.common)), "common name missing")
			assert.True(t, bytes.Contains(buf.Bytes(), []byte(tt.species)), "species missing")
		})
	}
}

func TestXMPPacketEscapesCDATA(t *testing.T) {
	out, err := xmpPacket(fish.AnalysisRecord{CommonName: "a]]>b"})
	require.NoError(t, err)
	assert.Contains(t, string(out), "<fish:commonName><![CDATA[a]]]]><![CDATA[>b]]></fish:commonName>")
	assert.Equal(t, 1, strings.Count(string(out), "<?xpacket end="))
}

func TestPDFText(t *testing.T) {
	assert.Equal(t, "Ilish ইলিশ", pdfText("Ilish ইলিশ"))
	assert.Equal(t, "fish \uFFFD", pdfText("fish 🐟"))
	assert.Equal(t, "bad \uFFFD", pdfText("bad \xff"))
}

func TestRenderIsDeterministic(t *testing.T) {
	var a, b bytes.Buffer
	require.NoError(t, Render(&a, sardine()))
	require.NoError(t, Render(&b, sardine()))
	assert.Equal(t, a.Bytes(), b.Bytes())

	other := sardine()
	other.CommonName = "Indian Oil Sardine"
	var c bytes.Buffer
	require.NoError(t, Render(&c, other))
	assert.NotEqual(t, a.Bytes(), c.Bytes())
}

func TestGenerateStorageError(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "reports")
	require.NoError(t, os.WriteFile(blocker, []byte("not a dir"), 0o644))

	_, err := NewGenerator(blocker, "/static/reports").Generate(context.Background(), sardine())
	assert.ErrorIs(t, err, fish.ErrStorage)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, "87%", percent(87))
	assert.Equal(t, "12.5%", percent(12.5))
}

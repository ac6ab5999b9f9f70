// Package report renders analysis records into PDF documents.
package report

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/google/uuid"

	"github.com/lokesh-guntreddi/oceanographic/internal/domain/fish"
)

const (
	title        = "Fish Identification Report"
	lineHeight   = 7.0
	margin       = 20.0
	minFontSize  = 6.0
	fontFamily   = "DejaVu"
	xmpNamespace = "urn:oceanographic:fish-analysis:1"
)

//go:embed fonts/DejaVuSansCondensed.ttf
var regularFont []byte

//go:embed fonts/DejaVuSansCondensed-Bold.ttf
var boldFont []byte

// documentDate is stamped into every PDF so identical records render to
// identical bytes.
var documentDate = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// Generator writes reports to Dir and links them below URLPrefix.
type Generator struct {
	Dir       string
	URLPrefix string
	Now       func() time.Time
}

var _ fish.ReportGenerator = (*Generator)(nil)

func NewGenerator(dir, urlPrefix string) *Generator {
	return &Generator{Dir: dir, URLPrefix: urlPrefix, Now: time.Now}
}

// Generate renders rec to a new file. The directory is created on demand.
func (g *Generator) Generate(ctx context.Context, rec fish.AnalysisRecord) (fish.ReportArtifact, error) {
	if err := ctx.Err(); err != nil {
		return fish.ReportArtifact{}, err
	}
	if err := os.MkdirAll(g.Dir, 0o755); err != nil {
		return fish.ReportArtifact{}, fmt.Errorf("%w: create report dir: %v", fish.ErrStorage, err)
	}

	now := g.Now()
	name := fmt.Sprintf("fish_report_%d-%s.pdf", now.UnixMilli(), uuid.NewString()[:8])
	dst := filepath.Join(g.Dir, name)

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fish.ReportArtifact{}, fmt.Errorf("%w: create %s: %v", fish.ErrStorage, name, err)
	}
	err = Render(f, rec)
	if serr := f.Sync(); err == nil {
		err = serr
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return fish.ReportArtifact{}, fmt.Errorf("%w: write %s: %v", fish.ErrStorage, name, err)
	}

	info, err := os.Stat(dst)
	if err != nil {
		return fish.ReportArtifact{}, fmt.Errorf("%w: stat %s: %v", fish.ErrStorage, name, err)
	}
	return fish.ReportArtifact{
		Filename:  name,
		Path:      dst,
		URL:       path.Join("/", strings.Trim(g.URLPrefix, "/"), name),
		Size:      info.Size(),
		CreatedAt: now,
	}, nil
}

// Render writes the report for rec to w. Output depends only on rec.
//
// Page text is drawn with an embedded UTF-8 font, so it is stored as glyph
// codes. The record itself is also written verbatim into the uncompressed XMP
// metadata stream, which keeps names searchable in the raw file.
func Render(w io.Writer, rec fish.AnalysisRecord) error {
	rec = fish.Normalize(rec)

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(false)
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(documentDate)
	pdf.SetModificationDate(documentDate)
	pdf.SetTitle(title, true)
	pdf.SetCreator("oceanographic", true)
	pdf.AddUTF8FontFromBytes(fontFamily, "", regularFont)
	pdf.AddUTF8FontFromBytes(fontFamily, "B", boldFont)

	xmp, err := xmpPacket(rec)
	if err != nil {
		return err
	}
	pdf.SetXmpMetadata(xmp)

	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(true, margin)
	pdf.AddPage()

	pageWidth, _ := pdf.GetPageSize()
	usable := pageWidth - 2*margin

	text := func(size float64, style, s string) {
		pdf.SetFont(fontFamily, style, size)
		pdf.MultiCell(0, lineHeight, pdfText(s), "", "L", false)
	}
	// line never wraps; the font shrinks until the text fits the page width
	line := func(size float64, s string) {
		s = pdfText(s)
		pdf.SetFont(fontFamily, "", size)
		for size > minFontSize && pdf.GetStringWidth(s) > usable {
			size -= 0.5
			pdf.SetFontSize(size)
		}
		pdf.CellFormat(usable, lineHeight, s, "", 1, "L", false, 0, "")
	}
	heading := func(s string) { text(18, "B", s) }
	body := func(s string) { text(14, "", s) }
	gap := func() { pdf.Ln(lineHeight / 2) }

	text(22, "BU", title)
	gap()

	line(16, "Common Name: "+rec.CommonName)
	line(16, "Scientific Name: "+rec.Species)
	line(16, "Family: "+rec.Family)
	line(16, "Confidence: "+percent(rec.Confidence))
	gap()

	heading("Measurements")
	body("Length: " + rec.Measurements.EstimatedLength)
	body("Weight: " + rec.Measurements.EstimatedWeight)
	body("Body Depth: " + rec.Measurements.BodyDepth)
	gap()

	heading("Habitat")
	body(rec.Habitat)
	gap()

	heading("Characteristics")
	for _, c := range rec.Characteristics {
		body("• " + c)
	}
	gap()

	heading("Distribution")
	body(rec.Distribution)
	gap()

	heading("Conservation Status")
	body(rec.ConservationStatus)
	gap()

	heading("Commercial Value")
	body(rec.CommercialValue)
	gap()

	heading("Similar Species")
	for _, s := range rec.SimilarSpecies {
		body(fmt.Sprintf("• %s (%s)", s.Name, percent(s.Confidence)))
	}

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.Output(w)
}

// xmpPacket carries the names as raw CDATA plus the whole record as JSON.
func xmpPacket(rec fish.AnalysisRecord) ([]byte, error) {
	var js bytes.Buffer
	enc := json.NewEncoder(&js)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		return nil, fmt.Errorf("encode record metadata: %w", err)
	}

	var b bytes.Buffer
	b.WriteString("<?xpacket begin=\"\ufeff\" id=\"W5M0MpCehiHzreSzNTczkc9d\"?>\n")
	b.WriteString(`<x:xmpmeta xmlns:x="adobe:ns:meta/">` + "\n")
	b.WriteString(`<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">` + "\n")
	b.WriteString(`<rdf:Description rdf:about="" xmlns:fish="` + xmpNamespace + `">` + "\n")
	writeCDATA(&b, "fish:commonName", rec.CommonName)
	writeCDATA(&b, "fish:species", rec.Species)
	writeCDATA(&b, "fish:record", strings.TrimSuffix(js.String(), "\n"))
	b.WriteString("</rdf:Description>\n</rdf:RDF>\n</x:xmpmeta>\n")
	b.WriteString(`<?xpacket end="r"?>`)
	return b.Bytes(), nil
}

func writeCDATA(b *bytes.Buffer, element, value string) {
	b.WriteString("<" + element + "><![CDATA[")
	b.WriteString(strings.ReplaceAll(value, "]]>", "]]]]><![CDATA[>"))
	b.WriteString("]]></" + element + ">\n")
}

// pdfText replaces invalid bytes and runes the font encoder cannot address
// (outside the BMP) with U+FFFD.
func pdfText(s string) string {
	return strings.Map(func(r rune) rune {
		if r > 0xFFFF || r == 0 {
			return '\uFFFD'
		}
		return r
	}, strings.ToValidUTF8(s, "\uFFFD"))
}

func percent(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "%"
}

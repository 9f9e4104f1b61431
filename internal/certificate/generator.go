package certificate

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	re2 "github.com/wasilibs/go-re2"
)

const (
	ContentTypePDF = "application/pdf"
	ContentTypeZip = "application/zip"
)

// Artifact is the downloadable proof of erasure.
type Artifact struct {
	Data        []byte
	ContentType string
	FileName    string
	Digest      string
}

type Options struct {
	SigningKey []byte
	Issuer     string
	// Compress deflates PDF content streams.
	Compress bool
}

type Generator struct {
	key      []byte
	issuer   string
	compress bool
}

func NewGenerator(opts Options) *Generator {
	if opts.Issuer == "" {
		opts.Issuer = "Aegis"
	}
	return &Generator{key: opts.SigningKey, issuer: opts.Issuer, compress: opts.Compress}
}

// Generate renders the artifact for a completed job: one PDF for a single
// record, otherwise a zip holding the manifest, a summary and one PDF per
// record.
func (g *Generator) Generate(m Manifest) (Artifact, error) {
	if len(m.Records) == 0 {
		return Artifact{}, fmt.Errorf("certificate for job %s: no processed records", m.JobID)
	}
	sealed, err := Seal(m, g.key)
	if err != nil {
		return Artifact{}, err
	}
	short := m.JobID
	if len(short) > 8 {
		short = short[:8]
	}

	if len(m.Records) == 1 {
		data, err := g.recordPDF(sealed, m.Records[0])
		if err != nil {
			return Artifact{}, err
		}
		return Artifact{
			Data:        data,
			ContentType: ContentTypePDF,
			FileName:    fmt.Sprintf("erasure-certificate-%s.pdf", short),
			Digest:      sealed.Digest,
		}, nil
	}

	data, err := g.archive(sealed)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{
		Data:        data,
		ContentType: ContentTypeZip,
		FileName:    fmt.Sprintf("erasure-report-%s.zip", short),
		Digest:      sealed.Digest,
	}, nil
}

var unsafeName = re2.MustCompile(`[^A-Za-z0-9._-]+`)

func (g *Generator) archive(s Sealed) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	add := func(name string, data []byte) error {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: s.CompletedAt.UTC(),
		})
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}

	manifest, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := add("manifest.json", manifest); err != nil {
		return nil, err
	}

	summary, err := g.summaryPDF(s)
	if err != nil {
		return nil, err
	}
	if err := add("summary.pdf", summary); err != nil {
		return nil, err
	}

	for i, rec := range s.Records {
		doc, err := g.recordPDF(s, rec)
		if err != nil {
			return nil, err
		}
		name := fmt.Sprintf("records/%04d_%s.pdf", i+1, unsafeName.ReplaceAllString(rec.RecordID, "_"))
		if err := add(name, doc); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type document struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

func (g *Generator) newDocument(s Sealed, title string) *document {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(g.compress)
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(s.CompletedAt.UTC())
	pdf.SetModificationDate(s.CompletedAt.UTC())
	pdf.SetTitle(title, true)
	pdf.SetAuthor(g.issuer, true)
	pdf.SetCreator(g.issuer, true)
	pdf.SetMargins(18, 18, 18)
	pdf.AddPage()

	d := &document{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, d.tr(title), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 6, d.tr("Issued by "+g.issuer), "", 1, "C", false, 0, "")
	pdf.Ln(4)
	return d
}

func (d *document) field(label, value string) {
	d.pdf.SetFont("Helvetica", "B", 10)
	d.pdf.CellFormat(42, 6, d.tr(label), "", 0, "L", false, 0, "")
	d.pdf.SetFont("Helvetica", "", 10)
	d.pdf.MultiCell(0, 6, d.tr(value), "", "L", false)
}

func (d *document) heading(text string) {
	d.pdf.Ln(3)
	d.pdf.SetFont("Helvetica", "B", 12)
	d.pdf.CellFormat(0, 8, d.tr(text), "B", 1, "L", false, 0, "")
	d.pdf.Ln(1)
}

func (d *document) paragraph(text string) {
	d.pdf.SetFont("Helvetica", "", 10)
	d.pdf.MultiCell(0, 5, d.tr(text), "", "L", false)
}

func (d *document) header(s Sealed) {
	d.field("Job", s.JobID)
	if s.Organization != "" {
		d.field("Organization", s.Organization)
	}
	if s.Operator != "" {
		d.field("Operator", s.Operator)
	}
	d.field("Database", s.Database)
	d.field("Table", s.Table)
	d.field("Key column", s.KeyColumn)
	d.field("Completed", s.CompletedAt.UTC().Format(time.RFC3339))
	d.field("Policy version", s.PolicyVersion)
}

func (d *document) footer(s Sealed) {
	d.heading("Integrity")
	d.paragraph(s.Statement)
	d.pdf.Ln(2)
	d.field("Manifest SHA-256", s.Digest)
	if s.Signature != "" {
		d.field("HMAC-SHA256", s.Signature)
	}
}

func (d *document) bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (g *Generator) recordPDF(s Sealed, rec Entry) ([]byte, error) {
	d := g.newDocument(s, "Certificate of Erasure")
	d.header(s)
	d.field("Record", rec.RecordID)

	d.heading("Columns processed")
	for _, c := range rec.Columns {
		d.field(c.Column, string(c.Strategy))
	}
	d.footer(s)
	return d.bytes()
}

func (g *Generator) summaryPDF(s Sealed) ([]byte, error) {
	d := g.newDocument(s, "Erasure Batch Summary")
	d.header(s)
	d.field("Records", fmt.Sprintf("%d", len(s.Records)))

	d.heading("Strategies applied")
	if len(s.Records) > 0 {
		for _, c := range s.Records[0].Columns {
			d.field(c.Column, string(c.Strategy))
		}
	}

	d.heading("Record ids")
	d.paragraph(strings.Join(s.RecordIDs(), ", "))
	d.footer(s)
	return d.bytes()
}

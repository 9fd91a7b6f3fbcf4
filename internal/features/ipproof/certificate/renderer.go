// Package certificate renders the printable PDF certificate of a proof.
package certificate

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/skip2/go-qrcode"

	apperrors "ipproof-backend/internal/common/errors"
	"ipproof-backend/internal/features/ipproof/models"
)

const (
	pageWidth   = 210.0
	margin      = 20.0
	contentW    = pageWidth - 2*margin
	labelW      = 45.0
	rowH        = 8.0
	qrSize      = 40.0
	qrPixels    = 256
	qrImageName = "verify-qr"
)

// Data is everything printed on a certificate.
type Data struct {
	ProofID          string
	FileHash         string
	FileName         string
	FileSize         int64
	MimeType         string
	Status           models.Status
	CreatedAt        time.Time
	BitcoinTxID      *string
	BlockHeight      *int64
	ConfirmationDate *time.Time
}

// NewData copies the printable fields of r.
func NewData(r *models.ProofRecord) Data {
	return Data{
		ProofID:          r.ID,
		FileHash:         r.FileHash,
		FileName:         r.FileName,
		FileSize:         r.FileSize,
		MimeType:         r.MimeType,
		Status:           r.Status,
		CreatedAt:        r.CreatedAt,
		BitcoinTxID:      r.BitcoinTxID,
		BlockHeight:      r.BitcoinBlockHeight,
		ConfirmationDate: r.ConfirmationDate,
	}
}

// Renderer has no mutable state and is safe for concurrent use.
type Renderer struct {
	baseURL  string
	compress bool
	now      func() time.Time
}

type Option func(*Renderer)

// WithClock fixes the generation time.
func WithClock(now func() time.Time) Option {
	return func(r *Renderer) { r.now = now }
}

// WithCompression toggles PDF stream compression.
func WithCompression(on bool) Option {
	return func(r *Renderer) { r.compress = on }
}

// NewRenderer creates a renderer whose QR codes link to baseURL/verify.
func NewRenderer(baseURL string, opts ...Option) *Renderer {
	r := &Renderer{baseURL: baseURL, compress: true, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// VerifyURL is the public verification link encoded in the QR code.
func (r *Renderer) VerifyURL(fileHash string) string {
	return r.baseURL + "/verify?hash=" + fileHash
}

// Render produces a single-page A4 PDF. Failures are RENDER_FAILURE errors.
func (r *Renderer) Render(d Data) ([]byte, error) {
	generatedAt := r.now().UTC()

	qr, err := qrcode.Encode(r.VerifyURL(d.FileHash), qrcode.Medium, qrPixels)
	if err != nil {
		return nil, apperrors.NewRenderError(fmt.Errorf("qr code: %w", err))
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(r.compress)
	pdf.SetCreationDate(generatedAt)
	pdf.SetModificationDate(generatedAt)
	pdf.SetCatalogSort(true)
	pdf.SetTitle("IP Proof Certificate", false)
	pdf.SetCreator("ipproof-backend", false)
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(false, margin)
	pdf.AddPage()

	tr := pdf.UnicodeTranslatorFromDescriptor("")

	r.header(pdf)
	r.details(pdf, tr, d)
	r.hashBox(pdf, d.FileHash)
	r.qrBlock(pdf, qr, d.FileHash)
	r.footer(pdf, d.ProofID, generatedAt)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, apperrors.NewRenderError(err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) header(pdf *fpdf.Fpdf) {
	pdf.SetFillColor(17, 24, 39)
	pdf.Rect(0, 0, pageWidth, 42, "F")

	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 20)
	pdf.SetXY(margin, 12)
	pdf.CellFormat(contentW, 10, "Certificate of Intellectual Property Proof", "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 11)
	pdf.SetX(margin)
	pdf.CellFormat(contentW, 8, "Proof of existence anchored to the Bitcoin blockchain", "", 1, "C", false, 0, "")

	pdf.SetY(54)
}

func (r *Renderer) details(pdf *fpdf.Fpdf, tr func(string) string, d Data) {
	pdf.SetTextColor(17, 24, 39)
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(contentW, 10, "Proof Details", "B", 1, "L", false, 0, "")
	pdf.Ln(3)

	styledRow := func(label, value, family string, size float64) {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.SetTextColor(75, 85, 99)
		pdf.CellFormat(labelW, rowH, label, "", 0, "L", false, 0, "")
		pdf.SetFont(family, "", size)
		pdf.SetTextColor(17, 24, 39)
		pdf.CellFormat(contentW-labelW, rowH, value, "", 1, "L", false, 0, "")
	}
	row := func(label, value string) {
		styledRow(label, value, "Helvetica", 11)
	}

	row("File Name:", tr(TruncateFileName(d.FileName)))
	row("File Size:", FormatFileSize(d.FileSize))
	row("File Type:", tr(d.MimeType))
	row("Registered:", FormatDate(d.CreatedAt))

	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetTextColor(75, 85, 99)
	pdf.CellFormat(labelW, rowH, "Status:", "", 0, "L", false, 0, "")
	c := statusColor(d.Status)
	pdf.SetTextColor(c.r, c.g, c.b)
	pdf.CellFormat(contentW-labelW, rowH, statusLabel(d.Status), "", 1, "L", false, 0, "")

	if d.BitcoinTxID != nil {
		styledRow("Bitcoin TX:", *d.BitcoinTxID, "Courier", 8)
	}
	if d.BlockHeight != nil {
		row("Block Height:", strconv.FormatInt(*d.BlockHeight, 10))
	}
	if d.ConfirmationDate != nil {
		row("Confirmed:", FormatDate(*d.ConfirmationDate))
	}
	pdf.Ln(6)
}

func (r *Renderer) hashBox(pdf *fpdf.Fpdf, hash string) {
	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetTextColor(75, 85, 99)
	pdf.CellFormat(contentW, rowH, "File Hash (SHA-256):", "", 1, "L", false, 0, "")

	pdf.SetFillColor(243, 244, 246)
	pdf.SetDrawColor(209, 213, 219)
	pdf.SetFont("Courier", "", 9.5)
	pdf.SetTextColor(17, 24, 39)
	pdf.CellFormat(contentW, 12, hash, "1", 1, "C", true, 0, "")
	pdf.Ln(8)
}

func (r *Renderer) qrBlock(pdf *fpdf.Fpdf, png []byte, hash string) {
	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader(qrImageName, opts, bytes.NewReader(png))

	y := pdf.GetY()
	pdf.ImageOptions(qrImageName, margin, y, qrSize, qrSize, false, opts, 0, "")

	textX := margin + qrSize + 8
	pdf.SetXY(textX, y+6)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.SetTextColor(17, 24, 39)
	pdf.CellFormat(contentW-qrSize-8, 8, "Verify this proof", "", 2, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(75, 85, 99)
	pdf.MultiCell(contentW-qrSize-8, 5,
		"Scan the code or open the link below. Anyone can check the hash against the public record and the Bitcoin attestation.",
		"", "L", false)
	pdf.SetX(textX)
	pdf.SetTextColor(59, 130, 246)
	pdf.SetFont("Helvetica", "", 7)
	pdf.CellFormat(contentW-qrSize-8, 5, r.VerifyURL(hash), "", 1, "L", false, 0, r.VerifyURL(hash))
}

func (r *Renderer) footer(pdf *fpdf.Fpdf, proofID string, generatedAt time.Time) {
	pdf.SetDrawColor(209, 213, 219)
	pdf.Line(margin, 270, pageWidth-margin, 270)

	pdf.SetFont("Helvetica", "", 8)
	pdf.SetTextColor(107, 114, 128)
	pdf.SetXY(margin, 273)
	pdf.CellFormat(contentW/2, 5, "Proof ID: "+proofID, "", 0, "L", false, 0, "")
	pdf.CellFormat(contentW/2, 5, "Generated "+FormatDate(generatedAt), "", 1, "R", false, 0, "")
}

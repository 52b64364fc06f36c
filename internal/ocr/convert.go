package ocr

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

const (
	// rasterDPI is the resolution PDF pages are rendered at before OCR.
	rasterDPI = 200
	// jpegQuality is the encoding quality for rendered/converted images.
	jpegQuality = 85
)

// rasterizePDF renders the first page of a PDF to a JPEG. Invoices are
// single-page documents; remaining pages are ignored.
func rasterizePDF(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.ImageDPI(0, rasterDPI)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encoding JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// heicToJPEG converts an HEIC/HEIF image (common on iPhones) to JPEG, which
// the provider accepts.
func heicToJPEG(data []byte) ([]byte, error) {
	img, err := heic.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding HEIC image: %w", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encoding JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEIC checks the ftyp box brand for the HEIC/HEIF container signatures.
func isHEIC(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// PrepareImage turns an uploaded file into bytes the OCR provider can
// consume. PDFs are rasterized, HEIC images are converted to JPEG, anything
// else is submitted as-is.
func PrepareImage(data []byte, filename string) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case ext == ".pdf":
		return rasterizePDF(data)
	case ext == ".heic" || ext == ".heif" || isHEIC(data):
		return heicToJPEG(data)
	default:
		return data, nil
	}
}

package invoice

import "errors"

// Per-file ingestion and lifecycle failures. The batch pipeline matches
// these with errors.Is to classify each file's outcome; none of them aborts
// the remaining batch.
var (
	// ErrDuplicateInvoice means an invoice with the same number and code
	// pair is already stored.
	ErrDuplicateInvoice = errors.New("duplicate invoice")

	// ErrFolderCollision means the derived storage directory already exists
	// on disk.
	ErrFolderCollision = errors.New("storage folder already exists")

	// ErrUnrecognizedDocument means OCR returned none of the fields that
	// identify a VAT invoice.
	ErrUnrecognizedDocument = errors.New("document not recognized as an invoice")

	// ErrProtectedArtifact means a soft-delete targeted the canonical
	// invoice file.
	ErrProtectedArtifact = errors.New("cannot delete canonical invoice artifact")

	// ErrNotFound means a referenced invoice, attachment, or trash entry
	// does not exist.
	ErrNotFound = errors.New("not found")
)

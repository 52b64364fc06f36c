package invoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/zlin/invoice-tracker/internal/ocr"
)

// anonymousPayer stands in when the upload form carries no payer name.
const anonymousPayer = "anonymous"

// unsafePathRe matches characters that are not safe inside a directory name.
var unsafePathRe = regexp.MustCompile(`[\\/:*?"<>|]`)

// sanitizePathName replaces path-unsafe characters so OCR text (asterisks
// included) can never break directory creation.
func sanitizePathName(name string) string {
	return unsafePathRe.ReplaceAllString(name, "_")
}

// folderName derives the collision-resistant storage directory name:
// payer, the first 16 characters of the sanitized commodity name, and the
// last 4 characters of the invoice number.
func folderName(payer, goodName, invNum string) string {
	short := []rune(sanitizePathName(goodName))
	if len(short) > 16 {
		short = short[:16]
	}
	num := []rune(invNum)
	if len(num) >= 4 {
		num = num[len(num)-4:]
	}
	return fmt.Sprintf("%s_%s_%s", payer, string(short), string(num))
}

// Service orchestrates ingestion, attachment lifecycle, and bulk operations
// over the record store, the folder storage, and the OCR provider.
type Service struct {
	db           DB
	storage      Storage
	ocrFactory   ocr.Factory
	defaultCreds ocr.Credentials
	timeSource   TimeSource
}

// NewService creates a new Service.
func NewService(db DB, storage Storage, factory ocr.Factory, creds ocr.Credentials) *Service {
	return NewServiceWithDeps(db, storage, factory, creds, &defaultTimeSource{})
}

// NewServiceWithDeps creates a Service with a custom time source for tests.
func NewServiceWithDeps(db DB, storage Storage, factory ocr.Factory, creds ocr.Credentials, timeSource TimeSource) *Service {
	return &Service{
		db:           db,
		storage:      storage,
		ocrFactory:   factory,
		defaultCreds: creds,
		timeSource:   timeSource,
	}
}

// UploadFile is one file of an upload batch.
type UploadFile struct {
	Filename string
	Data     []byte
}

// BatchOptions carries the request-supplied metadata and optional OCR
// credential overrides for one upload batch.
type BatchOptions struct {
	Payer       string
	StuID       string
	BankCard    string
	Credentials ocr.Credentials
}

// Per-file batch outcomes.
const (
	StatusOK            = "ok"
	StatusDuplicate     = "duplicate"
	StatusCollision     = "collision"
	StatusUnrecognized  = "unrecognized"
	StatusProviderError = "provider_error"
	StatusError         = "error"
)

// FileResult reports one file's outcome.
type FileResult struct {
	Filename string   `json:"filename"`
	Status   string   `json:"status"`
	Error    string   `json:"error,omitempty"`
	Invoice  *Invoice `json:"invoice,omitempty"`
}

// BatchResult reports an upload batch: the success count plus one diagnostic
// per file.
type BatchResult struct {
	Processed int          `json:"processed"`
	Results   []FileResult `json:"results"`
}

// ProcessBatch runs the ingestion pipeline over a batch of uploads,
// sequentially, one file at a time. Credentials are resolved once for the
// whole batch: the request-supplied override when present, the configured
// default otherwise. Every file's failure is independent and non-fatal to
// the rest of the batch.
func (s *Service) ProcessBatch(ctx context.Context, files []UploadFile, opts BatchOptions) BatchResult {
	creds := s.defaultCreds
	if !opts.Credentials.Empty() {
		creds = opts.Credentials
	}
	client := s.ocrFactory(creds)

	if opts.Payer == "" {
		opts.Payer = anonymousPayer
	}

	result := BatchResult{Results: make([]FileResult, 0, len(files))}
	for _, f := range files {
		inv, err := s.processUpload(ctx, client, f, opts)
		fr := FileResult{Filename: f.Filename, Status: StatusOK, Invoice: inv}
		if err != nil {
			fr.Invoice = nil
			fr.Status = classifyError(err)
			fr.Error = err.Error()
			slog.Warn("Failed to process upload", "filename", f.Filename, "status", fr.Status, "error", err)
		} else {
			result.Processed++
		}
		result.Results = append(result.Results, fr)
	}
	return result
}

// classifyError maps a pipeline error to its per-file outcome status.
func classifyError(err error) string {
	var provider *ocr.ProviderError
	switch {
	case errors.Is(err, ErrDuplicateInvoice):
		return StatusDuplicate
	case errors.Is(err, ErrFolderCollision):
		return StatusCollision
	case errors.Is(err, ErrUnrecognizedDocument):
		return StatusUnrecognized
	case errors.As(err, &provider):
		return StatusProviderError
	default:
		return StatusError
	}
}

// processUpload runs one file through the pipeline: temp save, image
// preparation, OCR, dedup and naming, folder materialization, record
// persistence. The temp file is always cleaned up; a failure after the
// folder exists removes it again so no directory is ever left without a
// record.
func (s *Service) processUpload(ctx context.Context, client ocr.Client, f UploadFile, opts BatchOptions) (*Invoice, error) {
	tempPath, err := s.storage.SaveTemp(f.Filename, f.Data)
	if err != nil {
		return nil, fmt.Errorf("saving upload: %w", err)
	}
	defer s.storage.RemoveTemp(tempPath)

	image, err := ocr.PrepareImage(f.Data, f.Filename)
	if err != nil {
		return nil, fmt.Errorf("preparing image: %w", err)
	}

	fields, err := client.RecognizeVATInvoice(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("recognizing invoice: %w", err)
	}

	num := fields.Scalar("InvoiceNum")
	code := fields.Scalar("InvoiceCode")
	goodName := ""
	if names := fields.List("CommodityName"); len(names) > 0 {
		goodName = strings.TrimSpace(names[0])
	}
	if num == "" && code == "" && goodName == "" {
		return nil, ErrUnrecognizedDocument
	}

	// Dedup runs before any defaulting so an unknown number never matches
	// another unknown number.
	if num != "" && code != "" {
		existing, err := s.db.FindByNumCode(num, code)
		if err != nil {
			return nil, fmt.Errorf("checking for duplicate: %w", err)
		}
		if existing != nil {
			return nil, fmt.Errorf("invoice %s/%s: %w", num, code, ErrDuplicateInvoice)
		}
	}

	if num == "" {
		num = "unknown"
	}
	if goodName == "" {
		goodName = unknownItemName
	}

	folder := folderName(opts.Payer, goodName, num)
	if err := s.storage.CreateDir(folder); err != nil {
		return nil, err
	}
	// From here on a failure must take the directory with it.
	discard := func() {
		if rmErr := s.storage.RemoveDir(folder); rmErr != nil {
			slog.Warn("Failed to remove invoice directory after error", "folder", folder, "error", rmErr)
		}
	}

	ext := filepath.Ext(f.Filename)
	if err := s.storage.PromoteTemp(tempPath, folder, ArtifactPrefix+ext); err != nil {
		discard()
		return nil, err
	}
	note := fmt.Sprintf("Name: %s\nStudent ID: %s\nBank card: %s\n", opts.Payer, opts.StuID, opts.BankCard)
	if err := s.storage.WriteNote(folder, folder+".txt", note); err != nil {
		discard()
		return nil, err
	}

	total := fields.Scalar("AmountInFiguers")
	if total == "" {
		total = fields.Scalar("TotalAmount")
	}
	if total == "" {
		total = "0"
	}

	inv := &Invoice{
		InvNum:    num,
		InvCode:   code,
		Date:      fields.Scalar("InvoiceDate"),
		Seller:    fields.Scalar("SellerName"),
		Total:     total,
		GoodName:  goodName,
		Spec:      scalarOrDash(fields, "CommodityType"),
		Unit:      scalarOrDash(fields, "CommodityUnit"),
		Quantity:  scalarOrDash(fields, "CommodityNum"),
		Price:     scalarOrDash(fields, "CommodityPrice"),
		Payer:     opts.Payer,
		StuID:     opts.StuID,
		BankCard:  opts.BankCard,
		Folder:    folder,
		CreatedAt: s.timeSource.Now(),
	}

	items := ReconcileItems(ColumnsFromFields(fields))
	if err := s.db.CreateInvoice(inv, items); err != nil {
		discard()
		return nil, fmt.Errorf("persisting invoice: %w", err)
	}
	return inv, nil
}

func scalarOrDash(f ocr.Fields, key string) string {
	if v := f.Scalar(key); v != "" {
		return v
	}
	return "-"
}

// FileInfo is one attachment of an invoice folder.
type FileInfo struct {
	Name      string `json:"name"`
	Protected bool   `json:"protected"`
}

// View is an invoice together with its line items and the current state of
// its folder. An invoice whose directory is gone simply lists no files.
type View struct {
	*Invoice
	Items []*Item    `json:"items"`
	Files []FileInfo `json:"files"`
	ProofFlags
}

// view assembles the presentation of one invoice.
func (s *Service) view(inv *Invoice) (*View, error) {
	items, err := s.db.ListItems(inv.ID)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	files, err := s.storage.ListFiles(inv.Folder)
	if err != nil {
		return nil, fmt.Errorf("listing attachments: %w", err)
	}
	infos := make([]FileInfo, 0, len(files))
	for _, name := range files {
		infos = append(infos, FileInfo{Name: name, Protected: isProtected(inv.Folder, name)})
	}
	return &View{
		Invoice:    inv,
		Items:      items,
		Files:      infos,
		ProofFlags: scanProofs(files),
	}, nil
}

// ListInvoices returns all invoices with their items and attachment state.
func (s *Service) ListInvoices() ([]*View, error) {
	invoices, err := s.db.ListInvoices()
	if err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}
	views := make([]*View, 0, len(invoices))
	for _, inv := range invoices {
		v, err := s.view(inv)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// GetInvoice returns one invoice with its items and attachment state.
func (s *Service) GetInvoice(id uint64) (*View, error) {
	inv, err := s.db.GetInvoice(id)
	if err != nil {
		return nil, err
	}
	return s.view(inv)
}

// TrashAttachment soft-deletes an attachment and returns the trash entry
// name for later restoration plus the recomputed proof flags.
func (s *Service) TrashAttachment(id uint64, filename string) (string, ProofFlags, error) {
	inv, err := s.db.GetInvoice(id)
	if err != nil {
		return "", ProofFlags{}, err
	}
	trashName, err := s.storage.Trash(inv.Folder, filename)
	if err != nil {
		return "", ProofFlags{}, err
	}
	files, err := s.storage.ListFiles(inv.Folder)
	if err != nil {
		return trashName, ProofFlags{}, err
	}
	return trashName, scanProofs(files), nil
}

// RestoreAttachment moves a trash entry back into the invoice folder,
// returning the filename actually used.
func (s *Service) RestoreAttachment(id uint64, trashName, filename string) (string, error) {
	inv, err := s.db.GetInvoice(id)
	if err != nil {
		return "", err
	}
	return s.storage.Restore(inv.Folder, trashName, filename)
}

// AttachmentData returns an attachment's bytes and MIME type for previews.
func (s *Service) AttachmentData(id uint64, filename string) ([]byte, string, error) {
	inv, err := s.db.GetInvoice(id)
	if err != nil {
		return nil, "", err
	}
	data, err := s.storage.ReadFile(inv.Folder, filename)
	if err != nil {
		return nil, "", err
	}
	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return data, contentType, nil
}

// DeleteInvoice removes an invoice's directory tree and its record. The
// filesystem removal is not transactional, so it runs first and the record
// deletion is the commit point; a record whose directory removal failed is
// still deleted, and readers treat a record without a directory as a record
// with no attachments.
func (s *Service) DeleteInvoice(id uint64) error {
	inv, err := s.db.GetInvoice(id)
	if err != nil {
		return err
	}
	if err := s.storage.RemoveDir(inv.Folder); err != nil {
		slog.Warn("Failed to remove invoice directory", "folder", inv.Folder, "error", err)
	}
	if err := s.db.DeleteInvoice(id); err != nil {
		return fmt.Errorf("deleting invoice record: %w", err)
	}
	return nil
}

// ClearAll wipes all records and all storage contents, preserving the
// storage root.
func (s *Service) ClearAll() error {
	if err := s.db.Clear(); err != nil {
		return fmt.Errorf("clearing records: %w", err)
	}
	if err := s.storage.Clear(); err != nil {
		return fmt.Errorf("clearing storage: %w", err)
	}
	return nil
}

package invoice

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/zlin/invoice-tracker/internal/ocr"
)

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON encodes a JSON response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeJSONError encodes an error body with CORS headers set.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	setCORSHeaders(w)
	writeJSON(w, status, map[string]string{"error": message})
}

// invoiceID parses the {id} path segment.
func invoiceID(r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	return id, err == nil
}

// handleUploadInvoices processes a multipart batch of invoice files. Field
// "invoice" may repeat; payer, stu_id, bank_card, and OCR credential
// overrides ride along as text fields.
func (s *Server) handleUploadInvoices(w http.ResponseWriter, r *http.Request) {
	// 50MB cap to handle high-resolution phone photos and scanned PDFs
	maxFormSize := int64(50 << 20)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		if err.Error() == "http: request body too large" {
			errorMsg = "File is too large. Maximum size is 50MB."
		}
		writeJSONError(w, http.StatusBadRequest, errorMsg)
		return
	}

	headers := r.MultipartForm.File["invoice"]
	if len(headers) == 0 {
		writeJSONError(w, http.StatusBadRequest, "No invoice files provided")
		return
	}

	files := make([]UploadFile, 0, len(headers))
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			slog.Error("Error opening uploaded file", "filename", header.Filename, "error", err)
			writeJSONError(w, http.StatusBadRequest, "Error reading uploaded file")
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			slog.Error("Error reading file data", "filename", header.Filename, "error", err)
			writeJSONError(w, http.StatusInternalServerError, "Error reading uploaded file")
			return
		}
		files = append(files, UploadFile{Filename: header.Filename, Data: data})
	}

	opts := BatchOptions{
		Payer:    r.FormValue("payer"),
		StuID:    r.FormValue("stu_id"),
		BankCard: r.FormValue("bank_card"),
		Credentials: ocr.Credentials{
			APIKey:    r.FormValue("api_key"),
			SecretKey: r.FormValue("secret_key"),
		},
	}

	result := s.service.ProcessBatch(r.Context(), files, opts)
	writeJSON(w, http.StatusOK, result)
}

// handleListInvoices returns all invoices with attachment state
func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	views, err := s.service.ListInvoices()
	if err != nil {
		slog.Error("Error listing invoices", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// handleGetInvoice returns a single invoice
func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := invoiceID(r)
	if !ok {
		corsError(w, "Invoice ID required", http.StatusBadRequest)
		return
	}
	view, err := s.service.GetInvoice(id)
	if err != nil {
		corsError(w, "Invoice not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleDeleteInvoice removes an invoice, its items, and its folder
func (s *Server) handleDeleteInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := invoiceID(r)
	if !ok {
		corsError(w, "Invoice ID required", http.StatusBadRequest)
		return
	}
	if err := s.service.DeleteInvoice(id); err != nil {
		if errors.Is(err, ErrNotFound) {
			corsError(w, "Invoice not found", http.StatusNotFound)
			return
		}
		slog.Error("Error deleting invoice", "id", id, "error", err)
		corsError(w, "Error deleting invoice", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetAttachment serves an attachment for preview
func (s *Server) handleGetAttachment(w http.ResponseWriter, r *http.Request) {
	id, ok := invoiceID(r)
	if !ok {
		corsError(w, "Invoice ID required", http.StatusBadRequest)
		return
	}
	data, contentType, err := s.service.AttachmentData(id, r.PathValue("filename"))
	if err != nil {
		corsError(w, "File not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleTrashAttachment soft-deletes an attachment into the invoice's trash
func (s *Server) handleTrashAttachment(w http.ResponseWriter, r *http.Request) {
	id, ok := invoiceID(r)
	if !ok {
		corsError(w, "Invoice ID required", http.StatusBadRequest)
		return
	}
	filename := r.PathValue("filename")

	trashName, flags, err := s.service.TrashAttachment(id, filename)
	if err != nil {
		switch {
		case errors.Is(err, ErrProtectedArtifact):
			writeJSONError(w, http.StatusForbidden, "cannot delete the canonical invoice file")
		case errors.Is(err, ErrNotFound):
			writeJSONError(w, http.StatusNotFound, "attachment not found")
		default:
			slog.Error("Error trashing attachment", "id", id, "filename", filename, "error", err)
			writeJSONError(w, http.StatusInternalServerError, "error deleting attachment")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"trash":             trashName,
		"filename":          filename,
		"has_payment_proof": flags.HasPaymentProof,
		"has_order_proof":   flags.HasOrderProof,
	})
}

// handleRestoreAttachment moves a trash entry back into the invoice folder
func (s *Server) handleRestoreAttachment(w http.ResponseWriter, r *http.Request) {
	id, ok := invoiceID(r)
	if !ok {
		corsError(w, "Invoice ID required", http.StatusBadRequest)
		return
	}

	var req struct {
		Trash    string `json:"trash"`
		Filename string `json:"filename"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Trash == "" {
		writeJSONError(w, http.StatusBadRequest, "trash entry name required")
		return
	}

	restored, err := s.service.RestoreAttachment(id, req.Trash, req.Filename)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "trash entry not found")
			return
		}
		slog.Error("Error restoring attachment", "id", id, "trash", req.Trash, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "error restoring attachment")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"filename": restored})
}

// handleExport streams the spreadsheet-plus-originals archive
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.Export()
	if err != nil {
		slog.Error("Error building export", "error", err)
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="reimbursements.zip"`)
	w.Write(data)
}

// handleClearAll wipes all records and storage contents
func (s *Server) handleClearAll(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ClearAll(); err != nil {
		slog.Error("Error clearing data", "error", err)
		corsError(w, "Error clearing data", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

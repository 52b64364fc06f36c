package invoice

import (
	"strings"
	"time"
)

// ArtifactPrefix is the reserved name marker for the canonical uploaded
// invoice file. Files carrying it can never be soft-deleted.
const ArtifactPrefix = "invoice"

// Invoice represents one processed reimbursement invoice. The snapshot
// fields (GoodName through Price) mirror the first commodity line and are
// only consulted when the invoice has no line items.
type Invoice struct {
	ID       uint64    `json:"id"`
	InvNum   string    `json:"inv_num"`
	InvCode  string    `json:"inv_code"`
	Date     string    `json:"date"` // free text from OCR, normalized at export
	Seller   string    `json:"seller"`
	Total    string    `json:"total"`
	GoodName string    `json:"good_name"`
	Spec     string    `json:"spec"`
	Unit     string    `json:"unit"`
	Quantity string    `json:"quantity"`
	Price    string    `json:"price"`
	Payer    string    `json:"payer"`
	StuID    string    `json:"stu_id"`
	BankCard string    `json:"bank_card"`
	Folder   string    `json:"folder_path"` // directory name under the storage root
	CreatedAt time.Time `json:"created_at"`
}

// Item is one commodity line extracted from an invoice's detail table.
// Quantity is empty when unknown/zero, in which case Price holds the line
// total. Amount is always tax-inclusive.
type Item struct {
	InvoiceID uint64 `json:"invoice_id"`
	Row       int    `json:"row"`
	Name      string `json:"name"`
	Spec      string `json:"spec"`
	Unit      string `json:"unit"`
	Quantity  string `json:"quantity"`
	Price     string `json:"price"`  // 4 decimal places
	Amount    string `json:"amount"` // 2 decimal places
	TaxRate   string `json:"tax_rate"`
	Tax       string `json:"tax"`
}

// ProofFlags reports whether an invoice folder currently holds a payment
// proof and an order proof. Derived by filename scan, never stored.
type ProofFlags struct {
	HasPaymentProof bool `json:"has_payment_proof"`
	HasOrderProof   bool `json:"has_order_proof"`
}

const (
	paymentMarker = "payment"
	orderMarker   = "order"
)

// scanProofs derives presence flags from a set of non-trashed filenames.
func scanProofs(files []string) ProofFlags {
	var flags ProofFlags
	for _, f := range files {
		name := strings.ToLower(f)
		if strings.Contains(name, paymentMarker) {
			flags.HasPaymentProof = true
		}
		if strings.Contains(name, orderMarker) {
			flags.HasOrderProof = true
		}
	}
	return flags
}

// isProtected reports whether a filename is a canonical artifact of the
// given invoice folder: the original invoice file or the metadata note.
func isProtected(folder, filename string) bool {
	return strings.HasPrefix(filename, ArtifactPrefix) || filename == folder+".txt"
}

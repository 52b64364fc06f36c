package ocr

import (
	"context"
	"fmt"
)

// Client defines the interface for VAT-invoice recognition providers.
type Client interface {
	// RecognizeVATInvoice analyzes an invoice image and returns the
	// recognized field mapping.
	RecognizeVATInvoice(ctx context.Context, image []byte) (Fields, error)
}

// Credentials identifies an application to the OCR provider.
type Credentials struct {
	APIKey    string
	SecretKey string
}

// Empty reports whether no credentials were supplied.
func (c Credentials) Empty() bool {
	return c.APIKey == "" && c.SecretKey == ""
}

// Factory builds a Client for a set of credentials. The ingestion service
// resolves request-supplied overrides against configured defaults once per
// batch and constructs a single client from the result.
type Factory func(creds Credentials) Client

// ProviderError is a failure reported by the provider itself, as opposed to
// a transport error reaching it.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("ocr provider error %d: %s", e.Code, e.Message)
}

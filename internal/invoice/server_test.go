package invoice

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zlin/invoice-tracker/internal/ocr"
)

var _ = Describe("Server", func() {
	var (
		db        *mockDB
		storage   *mockStorage
		ocrClient *mockOCR
		server    *Server
		auth      BasicAuth
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		ocrClient = &mockOCR{fields: ocr.Fields{
			"InvoiceNum":      "12345678",
			"InvoiceCode":     "044",
			"CommodityName":   []any{"Widget"},
			"CommodityAmount": []any{"113.00"},
		}}
		auth = BasicAuth{}
		factory := func(creds ocr.Credentials) ocr.Client { return ocrClient }
		service := NewServiceWithDeps(db, storage, factory, ocr.Credentials{},
			&stubTimeSource{now: time.Unix(1700000000, 0)})
		server = NewServerWithMux(service, auth, http.NewServeMux())
	})

	do := func(req *http.Request) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, req)
		return rec
	}

	Describe("POST /api/invoices", func() {
		uploadRequest := func(fields map[string]string, filenames ...string) *http.Request {
			var body bytes.Buffer
			mw := multipart.NewWriter(&body)
			for _, name := range filenames {
				part, err := mw.CreateFormFile("invoice", name)
				Expect(err).NotTo(HaveOccurred())
				_, err = part.Write([]byte("jpg-bytes"))
				Expect(err).NotTo(HaveOccurred())
			}
			for k, v := range fields {
				Expect(mw.WriteField(k, v)).To(Succeed())
			}
			Expect(mw.Close()).To(Succeed())

			req := httptest.NewRequest("POST", "/api/invoices", &body)
			req.Header.Set("Content-Type", mw.FormDataContentType())
			return req
		}

		It("should ingest the batch and report per-file outcomes", func() {
			rec := do(uploadRequest(map[string]string{"payer": "Alice", "stu_id": "S123"}, "scan.jpg"))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var result BatchResult
			Expect(json.Unmarshal(rec.Body.Bytes(), &result)).To(Succeed())
			Expect(result.Processed).To(Equal(1))
			Expect(result.Results[0].Status).To(Equal(StatusOK))
			Expect(result.Results[0].Invoice.Payer).To(Equal("Alice"))
			Expect(db.invoices).To(HaveLen(1))
		})

		It("should reject a batch without files", func() {
			rec := do(uploadRequest(map[string]string{"payer": "Alice"}))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should pass credential overrides through to the provider", func() {
			var got ocr.Credentials
			factory := func(creds ocr.Credentials) ocr.Client {
				got = creds
				return ocrClient
			}
			service := NewService(db, storage, factory, ocr.Credentials{APIKey: "default"})
			server = NewServerWithMux(service, auth, http.NewServeMux())

			do(uploadRequest(map[string]string{"api_key": "req-ak", "secret_key": "req-sk"}, "scan.jpg"))
			Expect(got.APIKey).To(Equal("req-ak"))
		})
	})

	Describe("GET /api/invoices", func() {
		It("should list invoices with their attachment state", func() {
			Expect(db.CreateInvoice(&Invoice{Folder: "f"}, nil)).To(Succeed())
			storage.dirs["f"] = map[string][]byte{"invoice.pdf": []byte("x")}

			rec := do(httptest.NewRequest("GET", "/api/invoices", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var views []View
			Expect(json.Unmarshal(rec.Body.Bytes(), &views)).To(Succeed())
			Expect(views).To(HaveLen(1))
			Expect(views[0].Files).To(HaveLen(1))
			Expect(views[0].Files[0].Protected).To(BeTrue())
		})
	})

	Describe("GET /api/invoices/{id}", func() {
		It("should return 404 for an unknown invoice", func() {
			rec := do(httptest.NewRequest("GET", "/api/invoices/42", nil))
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("DELETE /api/invoices/{id}", func() {
		It("should delete the invoice", func() {
			Expect(db.CreateInvoice(&Invoice{Folder: "f"}, nil)).To(Succeed())
			storage.dirs["f"] = map[string][]byte{}

			rec := do(httptest.NewRequest("DELETE", "/api/invoices/1", nil))
			Expect(rec.Code).To(Equal(http.StatusNoContent))
			Expect(db.invoices).To(BeEmpty())
		})

		It("should return 404 for an unknown invoice", func() {
			rec := do(httptest.NewRequest("DELETE", "/api/invoices/42", nil))
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /api/invoices/{id}/attachments/{filename}", func() {
		It("should serve the attachment with its MIME type", func() {
			Expect(db.CreateInvoice(&Invoice{Folder: "f"}, nil)).To(Succeed())
			storage.dirs["f"] = map[string][]byte{"invoice.pdf": []byte("pdf-bytes")}

			rec := do(httptest.NewRequest("GET", "/api/invoices/1/attachments/invoice.pdf", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/pdf"))
			Expect(rec.Body.Bytes()).To(Equal([]byte("pdf-bytes")))
		})
	})

	Describe("DELETE /api/invoices/{id}/attachments/{filename}", func() {
		BeforeEach(func() {
			Expect(db.CreateInvoice(&Invoice{Folder: "f"}, nil)).To(Succeed())
			storage.dirs["f"] = map[string][]byte{
				"invoice.pdf": []byte("x"),
				"payment.png": []byte("y"),
			}
		})

		It("should trash the attachment and report the proof flags", func() {
			rec := do(httptest.NewRequest("DELETE", "/api/invoices/1/attachments/payment.png", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var resp struct {
				Trash           string `json:"trash"`
				Filename        string `json:"filename"`
				HasPaymentProof bool   `json:"has_payment_proof"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Trash).To(HaveSuffix("_payment.png"))
			Expect(resp.Filename).To(Equal("payment.png"))
			Expect(resp.HasPaymentProof).To(BeFalse())
		})

		It("should refuse the canonical artifact with 403", func() {
			rec := do(httptest.NewRequest("DELETE", "/api/invoices/1/attachments/invoice.pdf", nil))
			Expect(rec.Code).To(Equal(http.StatusForbidden))
		})

		It("should return 404 for a missing attachment", func() {
			rec := do(httptest.NewRequest("DELETE", "/api/invoices/1/attachments/gone.png", nil))
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("POST /api/invoices/{id}/attachments/restore", func() {
		BeforeEach(func() {
			Expect(db.CreateInvoice(&Invoice{Folder: "f"}, nil)).To(Succeed())
			storage.dirs["f"] = map[string][]byte{"payment.png": []byte("y")}
		})

		It("should restore a trashed attachment", func() {
			trashName, _, err := server.service.TrashAttachment(1, "payment.png")
			Expect(err).NotTo(HaveOccurred())

			body := strings.NewReader(`{"trash":"` + trashName + `","filename":"payment.png"}`)
			rec := do(httptest.NewRequest("POST", "/api/invoices/1/attachments/restore", body))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(storage.dirs["f"]).To(HaveKey("payment.png"))
		})

		It("should return 404 for a missing trash entry", func() {
			body := strings.NewReader(`{"trash":"1700000000_gone.png","filename":"gone.png"}`)
			rec := do(httptest.NewRequest("POST", "/api/invoices/1/attachments/restore", body))
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("should require the trash entry name", func() {
			body := strings.NewReader(`{"filename":"payment.png"}`)
			rec := do(httptest.NewRequest("POST", "/api/invoices/1/attachments/restore", body))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /api/export", func() {
		It("should return 400 when nothing is stored", func() {
			rec := do(httptest.NewRequest("GET", "/api/export", nil))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should stream the archive", func() {
			Expect(db.CreateInvoice(&Invoice{Folder: "f"}, nil)).To(Succeed())
			storage.dirs["f"] = map[string][]byte{}

			rec := do(httptest.NewRequest("GET", "/api/export", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/zip"))
			Expect(rec.Header().Get("Content-Disposition")).To(ContainSubstring("reimbursements.zip"))
		})
	})

	Describe("POST /api/clear", func() {
		It("should wipe everything", func() {
			Expect(db.CreateInvoice(&Invoice{Folder: "f"}, nil)).To(Succeed())
			storage.dirs["f"] = map[string][]byte{}

			rec := do(httptest.NewRequest("POST", "/api/clear", nil))
			Expect(rec.Code).To(Equal(http.StatusNoContent))
			Expect(db.invoices).To(BeEmpty())
			Expect(storage.dirs).To(BeEmpty())
		})
	})

	When("basic auth is configured", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
			factory := func(creds ocr.Credentials) ocr.Client { return ocrClient }
			service := NewService(db, storage, factory, ocr.Credentials{})
			server = NewServerWithMux(service, auth, http.NewServeMux())
		})

		It("should reject requests without credentials", func() {
			rec := do(httptest.NewRequest("GET", "/api/invoices", nil))
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(rec.Header().Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
		})

		It("should reject wrong credentials", func() {
			req := httptest.NewRequest("GET", "/api/invoices", nil)
			req.SetBasicAuth("admin", "wrong")
			Expect(do(req).Code).To(Equal(http.StatusUnauthorized))
		})

		It("should accept valid credentials", func() {
			req := httptest.NewRequest("GET", "/api/invoices", nil)
			req.SetBasicAuth("admin", "secret")
			Expect(do(req).Code).To(Equal(http.StatusOK))
		})
	})
})

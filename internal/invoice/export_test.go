package invoice

import (
	"archive/zip"
	"bytes"
	"io"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/xuri/excelize/v2"

	"github.com/zlin/invoice-tracker/internal/ocr"
)

var _ = Describe("normalizeDate", func() {
	DescribeTable("formats recognizable dates as YYYY-MM-DD",
		func(in, want string) {
			Expect(normalizeDate(in)).To(Equal(want))
		},
		Entry("ISO", "2021-03-04", "2021-03-04"),
		Entry("slashes", "2021/03/04", "2021-03-04"),
		Entry("dots without padding", "2021.3.4", "2021-03-04"),
		Entry("CJK date markers", "2021年3月4日", "2021-03-04"),
		Entry("compact digits", "20210304", "2021-03-04"),
		Entry("datetime", "2021-03-04 15:04:05", "2021-03-04"),
		Entry("surrounding whitespace", "  2021-03-04  ", "2021-03-04"),
		Entry("digits embedded in text", "issued 2021-3-4 by seller", "2021-03-04"),
		Entry("empty", "", ""),
		Entry("garbage passes through", "not a date", "not a date"),
	)
})

var _ = Describe("rowPricing", func() {
	It("should derive the unit price from amount and quantity", func() {
		quantity, amount, price := rowPricing("113.00", "2", "")
		Expect(quantity.String()).To(Equal("2"))
		Expect(amount.String()).To(Equal("113"))
		Expect(price.String()).To(Equal("56.5"))
	})

	It("should keep a stored price when the quantity is nonzero", func() {
		_, _, price := rowPricing("113.00", "2", "56.5000")
		Expect(price.String()).To(Equal("56.5"))
	})

	It("should use the amount as the price when the quantity is zero", func() {
		quantity, amount, price := rowPricing("113.00", "0", "")
		Expect(quantity.IsZero()).To(BeTrue())
		Expect(price.Equal(amount)).To(BeTrue())
	})

	It("should treat a non-numeric quantity as zero", func() {
		quantity, amount, price := rowPricing("113.00", "about 3", "")
		Expect(quantity.IsZero()).To(BeTrue())
		Expect(price.Equal(amount)).To(BeTrue())
	})

	It("should be stable when reapplied to its own output", func() {
		q1, a1, p1 := rowPricing("113.00", "2", "")
		q2, a2, p2 := rowPricing(a1.StringFixed(2), q1.String(), p1.StringFixed(4))
		Expect(q2.Equal(q1)).To(BeTrue())
		Expect(a2.Equal(a1)).To(BeTrue())
		Expect(p2.Equal(p1)).To(BeTrue())
	})
})

var _ = Describe("Export", func() {
	var (
		db      *mockDB
		storage *mockStorage
		service *Service
	)

	readZip := func(data []byte) map[string][]byte {
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		Expect(err).NotTo(HaveOccurred())
		files := make(map[string][]byte)
		for _, f := range zr.File {
			rc, err := f.Open()
			Expect(err).NotTo(HaveOccurred())
			contents, err := io.ReadAll(rc)
			Expect(err).NotTo(HaveOccurred())
			Expect(rc.Close()).To(Succeed())
			files[f.Name] = contents
		}
		return files
	}

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		factory := func(creds ocr.Credentials) ocr.Client { return &mockOCR{} }
		service = NewService(db, storage, factory, ocr.Credentials{})
	})

	It("should refuse to export an empty record store", func() {
		_, err := service.Export()
		Expect(err).To(MatchError(ContainSubstring("no invoices")))
	})

	When("invoices are stored", func() {
		BeforeEach(func() {
			inv := &Invoice{
				InvNum:   "12345678",
				InvCode:  "044",
				Date:     "2021年3月4日",
				Seller:   "ACME Ltd",
				Total:    "113.00",
				GoodName: "Widget",
				Payer:    "Alice",
				StuID:    "S123",
				Folder:   "Alice_Widget_5678",
			}
			items := []*Item{{Row: 1, Name: "Widget", Quantity: "2", Amount: "113.00", Price: "56.5000"}}
			Expect(db.CreateInvoice(inv, items)).To(Succeed())
			storage.dirs["Alice_Widget_5678"] = map[string][]byte{
				"invoice.pdf": []byte("pdf-bytes"),
				"payment.png": []byte("png-bytes"),
			}
		})

		It("should bundle attachments under the archive root", func() {
			data, err := service.Export()
			Expect(err).NotTo(HaveOccurred())

			files := readZip(data)
			Expect(files).To(HaveKey("reimbursements/summary.xlsx"))
			Expect(files["reimbursements/Alice_Widget_5678/invoice.pdf"]).To(Equal([]byte("pdf-bytes")))
			Expect(files["reimbursements/Alice_Widget_5678/payment.png"]).To(Equal([]byte("png-bytes")))
		})

		It("should list invoices lacking proofs in the advisory", func() {
			data, err := service.Export()
			Expect(err).NotTo(HaveOccurred())

			advisory := string(readZip(data)["reimbursements/missing_attachments.txt"])
			Expect(advisory).To(Equal("Alice (Alice_Widget_5678) missing: order"))
		})

		It("should render one summary row per line item", func() {
			data, err := service.Export()
			Expect(err).NotTo(HaveOccurred())

			wb, err := excelize.OpenReader(bytes.NewReader(readZip(data)["reimbursements/summary.xlsx"]))
			Expect(err).NotTo(HaveOccurred())
			defer wb.Close()

			rows, err := wb.GetRows("Invoices")
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(2))
			Expect(rows[0][0]).To(Equal("Payer"))
			Expect(rows[1][0]).To(Equal("Alice"))
			Expect(rows[1][3]).To(Equal("Widget"))
			Expect(rows[1][7]).To(Equal("12345678"))
			Expect(rows[1][9]).To(Equal("2"))
			Expect(rows[1][10]).To(Equal("113"))
			Expect(rows[1][11]).To(Equal("56.5"))
			Expect(rows[1][12]).To(Equal("2021-03-04"))
		})

		It("should omit the advisory when every proof is present", func() {
			storage.dirs["Alice_Widget_5678"]["order_screenshot.png"] = []byte("o")

			data, err := service.Export()
			Expect(err).NotTo(HaveOccurred())
			Expect(readZip(data)).NotTo(HaveKey("reimbursements/missing_attachments.txt"))
		})

		It("should fall back to the invoice snapshot when there are no items", func() {
			inv := &Invoice{
				InvNum:   "87654321",
				Total:    "42.00",
				GoodName: "Gadget",
				Quantity: "-",
				Payer:    "Bob",
				Folder:   "Bob_Gadget_4321",
			}
			Expect(db.CreateInvoice(inv, nil)).To(Succeed())
			storage.dirs["Bob_Gadget_4321"] = map[string][]byte{}

			data, err := service.Export()
			Expect(err).NotTo(HaveOccurred())

			wb, err := excelize.OpenReader(bytes.NewReader(readZip(data)["reimbursements/summary.xlsx"]))
			Expect(err).NotTo(HaveOccurred())
			defer wb.Close()

			rows, err := wb.GetRows("Invoices")
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(3))
			Expect(rows[2][0]).To(Equal("Bob"))
			Expect(rows[2][3]).To(Equal("Gadget"))
			// Zero quantity leaves the cell empty and prices the row at its total
			Expect(rows[2][10]).To(Equal("42"))
			Expect(rows[2][11]).To(Equal("42"))
		})
	})
})

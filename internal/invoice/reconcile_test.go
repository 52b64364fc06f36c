package invoice

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zlin/invoice-tracker/internal/ocr"
)

var _ = Describe("ReconcileItems", func() {
	var (
		cols  LineColumns
		items []*Item
	)

	JustBeforeEach(func() {
		items = ReconcileItems(cols)
	})

	When("a line has a known quantity", func() {
		BeforeEach(func() {
			cols = LineColumns{
				Names:      []string{"Widget"},
				Specs:      []string{"A-1"},
				Units:      []string{"pcs"},
				Quantities: []string{"2"},
				Amounts:    []string{"100.00"},
				Taxes:      []string{"13.00"},
				TaxRates:   []string{"13%"},
			}
		})

		It("should produce one item", func() {
			Expect(items).To(HaveLen(1))
		})

		It("should store the tax-inclusive amount", func() {
			Expect(items[0].Amount).To(Equal("113.00"))
		})

		It("should divide the amount by the quantity", func() {
			Expect(items[0].Price).To(Equal("56.5000"))
		})

		It("should keep the parsed quantity", func() {
			Expect(items[0].Quantity).To(Equal("2"))
		})

		It("should number rows from one", func() {
			Expect(items[0].Row).To(Equal(1))
		})

		It("should keep the tax as a decimal string", func() {
			Expect(items[0].Tax).To(Equal("13"))
		})
	})

	When("a line has a zero quantity", func() {
		BeforeEach(func() {
			cols = LineColumns{
				Names:      []string{"Widget"},
				Quantities: []string{"0"},
				Amounts:    []string{"100.00"},
				Taxes:      []string{"13.00"},
			}
		})

		It("should make the price equal the line total", func() {
			Expect(items[0].Price).To(Equal("113.0000"))
		})

		It("should store an empty quantity", func() {
			Expect(items[0].Quantity).To(Equal(""))
		})
	})

	When("the quantity text is not a plain unsigned decimal", func() {
		BeforeEach(func() {
			cols = LineColumns{
				Names:      []string{"Widget"},
				Quantities: []string{"about 3"},
				Amounts:    []string{"50.00"},
			}
		})

		It("should treat the quantity as unknown", func() {
			Expect(items[0].Quantity).To(Equal(""))
			Expect(items[0].Price).To(Equal("50.0000"))
		})
	})

	When("amounts carry thousands separators", func() {
		BeforeEach(func() {
			cols = LineColumns{
				Names:      []string{"Server rack"},
				Quantities: []string{"1"},
				Amounts:    []string{"1,200.00"},
				Taxes:      []string{"156.00"},
			}
		})

		It("should strip the separators before parsing", func() {
			Expect(items[0].Amount).To(Equal("1356.00"))
			Expect(items[0].Price).To(Equal("1356.0000"))
		})
	})

	When("the other columns are shorter than the name column", func() {
		BeforeEach(func() {
			cols = LineColumns{
				Names:   []string{"Widget", "Gadget", "Gizmo"},
				Specs:   []string{"A-1"},
				Amounts: []string{"10.00", "20.00"},
			}
		})

		It("should emit one item per name", func() {
			Expect(items).To(HaveLen(3))
		})

		It("should pad missing values with empties", func() {
			Expect(items[1].Spec).To(Equal(""))
			Expect(items[2].Amount).To(Equal("0.00"))
		})
	})

	When("a name is empty", func() {
		BeforeEach(func() {
			cols = LineColumns{
				Names:   []string{""},
				Amounts: []string{"10.00"},
			}
		})

		It("should fall back to the unknown item name", func() {
			Expect(items[0].Name).To(Equal("unknown item"))
		})
	})

	When("the amount and tax are unparseable", func() {
		BeforeEach(func() {
			cols = LineColumns{
				Names:      []string{"Widget"},
				Quantities: []string{"2"},
				Amounts:    []string{"N/A"},
				Taxes:      []string{"-"},
			}
		})

		It("should treat them as zero", func() {
			Expect(items[0].Amount).To(Equal("0.00"))
			Expect(items[0].Price).To(Equal("0.0000"))
		})
	})
})

var _ = Describe("ColumnsFromFields", func() {
	It("should pull the parallel commodity columns", func() {
		fields := ocr.Fields{
			"CommodityName":   []any{map[string]any{"word": "Widget"}},
			"CommodityNum":    []any{"2"},
			"CommodityAmount": []any{"100.00"},
			"CommodityTax":    []any{"13.00"},
		}
		cols := ColumnsFromFields(fields)
		Expect(cols.Names).To(Equal([]string{"Widget"}))
		Expect(cols.Quantities).To(Equal([]string{"2"}))
		Expect(cols.Amounts).To(Equal([]string{"100.00"}))
		Expect(cols.Taxes).To(Equal([]string{"13.00"}))
		Expect(cols.Specs).To(BeNil())
	})
})

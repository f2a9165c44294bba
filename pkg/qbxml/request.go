// Package qbxml renders and parses the versioned XML dialect spoken by the
// QuickBooks Web Connector. The builder side is a pure function of
// (phase, pagination mode, parameters); the parser side is tolerant of
// missing optional fields. Payloads are rendered by hand because the dialect
// needs the <?qbxml?> processing instruction and attribute-bearing iterator
// elements that encoding/xml cannot emit.
package qbxml

import (
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"net/http"

	"github.com/fieldserve/trellis/pkg/models"
)

// Version is the qbXML document version stamped into every payload.
type Version struct {
	Major int
	Minor int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// QueryFilters are the start-mode filters for an iterated query.
type QueryFilters struct {
	MaxReturned      int
	ActiveOnly       bool
	FromModifiedDate *time.Time
	IncludeFields    []string
}

// requestElements maps each phase to its qbXML request element.
var requestElements = map[models.Phase]string{
	models.PhaseCompany:           "CompanyQueryRq",
	models.PhaseInventoryItems:    "ItemInventoryQueryRq",
	models.PhaseServiceItems:      "ItemServiceQueryRq",
	models.PhaseNonInventoryItems: "ItemNonInventoryQueryRq",
	models.PhaseOtherChargeItems:  "ItemOtherChargeQueryRq",
	models.PhaseSalesTaxItems:     "ItemSalesTaxQueryRq",
	models.PhaseSalesTaxGroups:    "ItemSalesTaxGroupQueryRq",
	models.PhaseCustomers:         "CustomerQueryRq",
}

// RequestBuilder renders outbound qbXML payloads. It holds no per-session
// state; the caller supplies everything per call.
type RequestBuilder struct {
	version Version
}

func NewRequestBuilder(version Version) *RequestBuilder {
	return &RequestBuilder{version: version}
}

// BuildStartQuery renders the first, filter-carrying request of an iterated
// query for the given phase.
func (b *RequestBuilder) BuildStartQuery(phase models.Phase, filters QueryFilters) (string, error) {
	element, ok := requestElements[phase]
	if !ok {
		return "", httperror.NewHTTPErrorf(http.StatusInternalServerError, "phase %q has no query element", phase)
	}

	var body strings.Builder
	if phase == models.PhaseCompany {
		// The company probe is a plain single-shot query.
		fmt.Fprintf(&body, "<%s/>", element)
		return b.envelope(body.String()), nil
	}

	fmt.Fprintf(&body, `<%s requestID="1" iterator="Start">`, element)
	fmt.Fprintf(&body, "<MaxReturned>%d</MaxReturned>", filters.MaxReturned)
	if filters.ActiveOnly {
		body.WriteString("<ActiveStatus>ActiveOnly</ActiveStatus>")
	}
	if filters.FromModifiedDate != nil {
		fmt.Fprintf(&body, "<FromModifiedDate>%s</FromModifiedDate>", filters.FromModifiedDate.Format("2006-01-02T15:04:05"))
	}
	for _, field := range filters.IncludeFields {
		fmt.Fprintf(&body, "<IncludeRetElement>%s</IncludeRetElement>", Escape(field))
	}
	fmt.Fprintf(&body, "</%s>", element)

	return b.envelope(body.String()), nil
}

// BuildContinueQuery renders a continuation request carrying only the opaque
// iterator id and the page size.
func (b *RequestBuilder) BuildContinueQuery(phase models.Phase, iteratorID string, maxReturned int) (string, error) {
	element, ok := requestElements[phase]
	if !ok {
		return "", httperror.NewHTTPErrorf(http.StatusInternalServerError, "phase %q has no query element", phase)
	}
	if iteratorID == "" {
		return "", httperror.NewHTTPError(http.StatusInternalServerError, "continue request requires an iterator id")
	}

	var body strings.Builder
	fmt.Fprintf(&body, `<%s requestID="1" iterator="Continue" iteratorID="%s">`, element, Escape(iteratorID))
	fmt.Fprintf(&body, "<MaxReturned>%d</MaxReturned>", maxReturned)
	fmt.Fprintf(&body, "</%s>", element)

	return b.envelope(body.String()), nil
}

// BuildInvoiceAdd renders the single non-iterated document-creation command.
// A missing customer id aborts construction; every other optional block is
// omitted entirely when its value is absent.
func (b *RequestBuilder) BuildInvoiceAdd(add models.InvoiceAdd) (string, error) {
	if add.CustomerListID == "" {
		return "", httperror.NewHTTPError(http.StatusUnprocessableEntity, "invoice add requires a customer list id")
	}

	var body strings.Builder
	body.WriteString(`<InvoiceAddRq requestID="1"><InvoiceAdd>`)
	fmt.Fprintf(&body, "<CustomerRef><ListID>%s</ListID></CustomerRef>", Escape(add.CustomerListID))
	fmt.Fprintf(&body, "<TxnDate>%s</TxnDate>", add.TxnDate.Format("2006-01-02"))
	fmt.Fprintf(&body, "<RefNumber>%s</RefNumber>", Escape(add.RefNumber))
	if add.PONumber != nil && *add.PONumber != "" {
		fmt.Fprintf(&body, "<PONumber>%s</PONumber>", Escape(*add.PONumber))
	}
	if add.Memo != nil && *add.Memo != "" {
		fmt.Fprintf(&body, "<Memo>%s</Memo>", Escape(*add.Memo))
	}
	if add.TaxItemFullName != nil && *add.TaxItemFullName != "" {
		fmt.Fprintf(&body, "<ItemSalesTaxRef><FullName>%s</FullName></ItemSalesTaxRef>", Escape(*add.TaxItemFullName))
	}

	for _, line := range add.Lines {
		body.WriteString("<InvoiceLineAdd>")
		if line.ItemListID != "" {
			fmt.Fprintf(&body, "<ItemRef><ListID>%s</ListID></ItemRef>", Escape(line.ItemListID))
		}
		fmt.Fprintf(&body, "<Desc>%s</Desc>", Escape(line.Description))
		fmt.Fprintf(&body, "<Quantity>%s</Quantity>", formatNumber(line.Quantity))
		if line.ClassName != nil && *line.ClassName != "" {
			fmt.Fprintf(&body, "<ClassRef><FullName>%s</FullName></ClassRef>", Escape(*line.ClassName))
		}
		fmt.Fprintf(&body, "<Rate>%s</Rate>", formatNumber(line.Rate))
		if line.ServiceDate != nil {
			fmt.Fprintf(&body, "<ServiceDate>%s</ServiceDate>", line.ServiceDate.Format("2006-01-02"))
		}
		if line.Taxable != nil {
			code := "Non"
			if *line.Taxable {
				code = "Tax"
			}
			fmt.Fprintf(&body, "<SalesTaxCodeRef><FullName>%s</FullName></SalesTaxCodeRef>", code)
		}
		body.WriteString("</InvoiceLineAdd>")
	}

	body.WriteString("</InvoiceAdd></InvoiceAddRq>")
	return b.envelope(body.String()), nil
}

func (b *RequestBuilder) envelope(body string) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	sb.WriteString("\n")
	fmt.Fprintf(&sb, `<?qbxml version="%s"?>`, b.version)
	sb.WriteString("\n")
	sb.WriteString(`<QBXML><QBXMLMsgsRq onError="continueOnError">`)
	sb.WriteString(body)
	sb.WriteString(`</QBXMLMsgsRq></QBXML>`)
	return sb.String()
}

// formatNumber renders a float the way QuickBooks expects: plain decimal,
// no exponent, trailing zeros trimmed.
func formatNumber(f float64) string {
	s := fmt.Sprintf("%.5f", f)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}

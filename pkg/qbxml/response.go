package qbxml

import (
	"encoding/xml"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/fieldserve/trellis/pkg/models"
)

// Page is one parsed response page: pagination metadata, status, and the
// typed records for the active phase. Exactly one record slice is populated.
type Page struct {
	Phase         models.Phase
	StatusCode    int
	StatusMessage string
	IteratorID    *string
	Remaining     int

	InventoryItems []models.InventoryItem
	ServiceItems   []models.ServiceItem
	OtherItems     []models.OtherItem
	Customers      []models.Customer
}

// RecordCount returns the number of records on the page regardless of phase.
func (p *Page) RecordCount() int {
	return len(p.InventoryItems) + len(p.ServiceItems) + len(p.OtherItems) + len(p.Customers)
}

// InvoiceResult is the parsed outcome of an InvoiceAddRs.
type InvoiceResult struct {
	StatusCode    int
	StatusMessage string
	TxnID         string
	EditSequence  string
	RefNumber     string
}

// Succeeded reports whether QuickBooks accepted the invoice. Status 0 is OK;
// QuickBooks also uses 530 ("warning") for accepted-with-warning responses.
func (r *InvoiceResult) Succeeded() bool {
	return r.StatusCode == 0 || r.StatusCode == 530
}

type rsAttrs struct {
	StatusCode    string `xml:"statusCode,attr"`
	StatusMessage string `xml:"statusMessage,attr"`
	IteratorID    string `xml:"iteratorID,attr"`
	Remaining     string `xml:"iteratorRemainingCount,attr"`
}

type salesOrPurchase struct {
	Desc  string `xml:"Desc"`
	Price string `xml:"Price"`
}

type itemInventoryRet struct {
	ListID         string `xml:"ListID"`
	Name           string `xml:"Name"`
	FullName       string `xml:"FullName"`
	IsActive       string `xml:"IsActive"`
	SalesDesc      string `xml:"SalesDesc"`
	SalesPrice     string `xml:"SalesPrice"`
	PurchaseCost   string `xml:"PurchaseCost"`
	QuantityOnHand string `xml:"QuantityOnHand"`
	TimeModified   string `xml:"TimeModified"`
}

type itemServiceRet struct {
	ListID          string          `xml:"ListID"`
	Name            string          `xml:"Name"`
	FullName        string          `xml:"FullName"`
	IsActive        string          `xml:"IsActive"`
	SalesOrPurchase salesOrPurchase `xml:"SalesOrPurchase"`
	TimeModified    string          `xml:"TimeModified"`
}

type itemOtherRet struct {
	ListID          string          `xml:"ListID"`
	Name            string          `xml:"Name"`
	FullName        string          `xml:"FullName"`
	IsActive        string          `xml:"IsActive"`
	SalesOrPurchase salesOrPurchase `xml:"SalesOrPurchase"`
	ItemDesc        string          `xml:"ItemDesc"`
	TaxRate         string          `xml:"TaxRate"`
	TimeModified    string          `xml:"TimeModified"`
}

type customerRet struct {
	ListID       string `xml:"ListID"`
	Name         string `xml:"Name"`
	FullName     string `xml:"FullName"`
	CompanyName  string `xml:"CompanyName"`
	Email        string `xml:"Email"`
	Phone        string `xml:"Phone"`
	IsActive     string `xml:"IsActive"`
	TimeModified string `xml:"TimeModified"`
}

type queryRs struct {
	rsAttrs
	InventoryItems []itemInventoryRet `xml:"ItemInventoryRet"`
	ServiceItems   []itemServiceRet   `xml:"ItemServiceRet"`
	NonInventory   []itemOtherRet     `xml:"ItemNonInventoryRet"`
	OtherCharges   []itemOtherRet     `xml:"ItemOtherChargeRet"`
	SalesTaxItems  []itemOtherRet     `xml:"ItemSalesTaxRet"`
	SalesTaxGroups []itemOtherRet     `xml:"ItemSalesTaxGroupRet"`
	Customers      []customerRet      `xml:"CustomerRet"`
}

type invoiceRet struct {
	TxnID        string `xml:"TxnID"`
	EditSequence string `xml:"EditSequence"`
	RefNumber    string `xml:"RefNumber"`
}

type invoiceAddRs struct {
	rsAttrs
	InvoiceRet *invoiceRet `xml:"InvoiceRet"`
}

type msgsRs struct {
	CompanyQueryRs           *queryRs      `xml:"CompanyQueryRs"`
	ItemInventoryQueryRs     *queryRs      `xml:"ItemInventoryQueryRs"`
	ItemServiceQueryRs       *queryRs      `xml:"ItemServiceQueryRs"`
	ItemNonInventoryQueryRs  *queryRs      `xml:"ItemNonInventoryQueryRs"`
	ItemOtherChargeQueryRs   *queryRs      `xml:"ItemOtherChargeQueryRs"`
	ItemSalesTaxQueryRs      *queryRs      `xml:"ItemSalesTaxQueryRs"`
	ItemSalesTaxGroupQueryRs *queryRs      `xml:"ItemSalesTaxGroupQueryRs"`
	CustomerQueryRs          *queryRs      `xml:"CustomerQueryRs"`
	InvoiceAddRs             *invoiceAddRs `xml:"InvoiceAddRs"`
}

type qbxmlRs struct {
	XMLName xml.Name `xml:"QBXML"`
	MsgsRs  msgsRs   `xml:"QBXMLMsgsRs"`
}

// ParseQueryResponse parses a response payload for the given phase. Missing
// optional fields never fault the parse; a structurally broken payload does,
// and the caller decides whether that is terminal.
func ParseQueryResponse(phase models.Phase, payload string) (*Page, error) {
	var doc qbxmlRs
	if err := xml.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "malformed qbxml response: %v", err)
	}

	rs := responseForPhase(&doc.MsgsRs, phase)
	if rs == nil {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "response has no result element for phase %q", phase)
	}

	page := &Page{
		Phase:         phase,
		StatusCode:    optInt(rs.StatusCode),
		StatusMessage: rs.StatusMessage,
		Remaining:     optInt(rs.Remaining),
	}
	if rs.IteratorID != "" {
		id := rs.IteratorID
		page.IteratorID = &id
	}

	switch phase {
	case models.PhaseInventoryItems:
		for _, ret := range rs.InventoryItems {
			page.InventoryItems = append(page.InventoryItems, models.InventoryItem{
				ListID:         ret.ListID,
				Name:           ret.Name,
				FullName:       fullNameOrName(ret.FullName, ret.Name),
				IsActive:       optBool(ret.IsActive, true),
				SalesDesc:      optString(ret.SalesDesc),
				SalesPrice:     optFloat(ret.SalesPrice),
				PurchaseCost:   optFloat(ret.PurchaseCost),
				QuantityOnHand: optFloat(ret.QuantityOnHand),
				TimeModified:   optTime(ret.TimeModified),
			})
		}
	case models.PhaseServiceItems:
		for _, ret := range rs.ServiceItems {
			page.ServiceItems = append(page.ServiceItems, models.ServiceItem{
				ListID:       ret.ListID,
				Name:         ret.Name,
				FullName:     fullNameOrName(ret.FullName, ret.Name),
				IsActive:     optBool(ret.IsActive, true),
				Description:  optString(ret.SalesOrPurchase.Desc),
				Price:        optFloat(ret.SalesOrPurchase.Price),
				TimeModified: optTime(ret.TimeModified),
			})
		}
	case models.PhaseNonInventoryItems:
		page.OtherItems = otherItems(rs.NonInventory, models.OtherItemSubtypeNonInventory)
	case models.PhaseOtherChargeItems:
		page.OtherItems = otherItems(rs.OtherCharges, models.OtherItemSubtypeOtherCharge)
	case models.PhaseSalesTaxItems:
		page.OtherItems = otherItems(rs.SalesTaxItems, models.OtherItemSubtypeSalesTax)
	case models.PhaseSalesTaxGroups:
		page.OtherItems = otherItems(rs.SalesTaxGroups, models.OtherItemSubtypeSalesTaxGroup)
	case models.PhaseCustomers:
		for _, ret := range rs.Customers {
			page.Customers = append(page.Customers, models.Customer{
				ListID:       ret.ListID,
				Name:         ret.Name,
				FullName:     fullNameOrName(ret.FullName, ret.Name),
				CompanyName:  optString(ret.CompanyName),
				Email:        optString(ret.Email),
				Phone:        optString(ret.Phone),
				IsActive:     optBool(ret.IsActive, true),
				TimeModified: optTime(ret.TimeModified),
			})
		}
	}

	return page, nil
}

// ParseInvoiceAddResponse parses the one-shot invoice creation response.
func ParseInvoiceAddResponse(payload string) (*InvoiceResult, error) {
	var doc qbxmlRs
	if err := xml.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "malformed qbxml response: %v", err)
	}

	rs := doc.MsgsRs.InvoiceAddRs
	if rs == nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "response has no InvoiceAddRs element")
	}

	result := &InvoiceResult{
		StatusCode:    optInt(rs.StatusCode),
		StatusMessage: rs.StatusMessage,
	}
	if rs.InvoiceRet != nil {
		result.TxnID = rs.InvoiceRet.TxnID
		result.EditSequence = rs.InvoiceRet.EditSequence
		result.RefNumber = rs.InvoiceRet.RefNumber
	}
	return result, nil
}

func responseForPhase(rs *msgsRs, phase models.Phase) *queryRs {
	switch phase {
	case models.PhaseCompany:
		return rs.CompanyQueryRs
	case models.PhaseInventoryItems:
		return rs.ItemInventoryQueryRs
	case models.PhaseServiceItems:
		return rs.ItemServiceQueryRs
	case models.PhaseNonInventoryItems:
		return rs.ItemNonInventoryQueryRs
	case models.PhaseOtherChargeItems:
		return rs.ItemOtherChargeQueryRs
	case models.PhaseSalesTaxItems:
		return rs.ItemSalesTaxQueryRs
	case models.PhaseSalesTaxGroups:
		return rs.ItemSalesTaxGroupQueryRs
	case models.PhaseCustomers:
		return rs.CustomerQueryRs
	}
	return nil
}

func otherItems(rets []itemOtherRet, subtype models.OtherItemSubtype) []models.OtherItem {
	items := make([]models.OtherItem, 0, len(rets))
	for _, ret := range rets {
		desc := ret.SalesOrPurchase.Desc
		if desc == "" {
			desc = ret.ItemDesc
		}
		items = append(items, models.OtherItem{
			Subtype:      subtype,
			ListID:       ret.ListID,
			Name:         ret.Name,
			FullName:     fullNameOrName(ret.FullName, ret.Name),
			IsActive:     optBool(ret.IsActive, true),
			Description:  optString(desc),
			Price:        optFloat(ret.SalesOrPurchase.Price),
			TaxRate:      optFloat(ret.TaxRate),
			TimeModified: optTime(ret.TimeModified),
		})
	}
	return items
}

func fullNameOrName(fullName, name string) string {
	if fullName != "" {
		return fullName
	}
	return name
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optInt(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func optFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

func optBool(s string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true
	case "false":
		return false
	}
	return fallback
}

var timeLayouts = []string{
	"2006-01-02T15:04:05-07:00",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func optTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

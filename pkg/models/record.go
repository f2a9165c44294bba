package models

import "time"

// OtherItemSubtype tags which QuickBooks list an OtherItem came from. All
// four subtypes land in the same staging destination.
type OtherItemSubtype string

const (
	OtherItemSubtypeNonInventory  OtherItemSubtype = "non_inventory"
	OtherItemSubtypeOtherCharge   OtherItemSubtype = "other_charge"
	OtherItemSubtypeSalesTax      OtherItemSubtype = "sales_tax"
	OtherItemSubtypeSalesTaxGroup OtherItemSubtype = "sales_tax_group"
)

// InventoryItem is one ItemInventoryRet record pulled from QuickBooks.
// Numeric and timestamp fields are optional on the wire and stay nil when
// the response omits them.
type InventoryItem struct {
	ListID         string
	Name           string
	FullName       string
	IsActive       bool
	SalesDesc      *string
	SalesPrice     *float64
	PurchaseCost   *float64
	QuantityOnHand *float64
	TimeModified   *time.Time
}

// ServiceItem is one ItemServiceRet record.
type ServiceItem struct {
	ListID       string
	Name         string
	FullName     string
	IsActive     bool
	Description  *string
	Price        *float64
	TimeModified *time.Time
}

// OtherItem is one record bound for the shared "other item" staging
// destination: non-inventory items, other charges, sales-tax items, and
// sales-tax groups.
type OtherItem struct {
	Subtype      OtherItemSubtype
	ListID       string
	Name         string
	FullName     string
	IsActive     bool
	Description  *string
	Price        *float64
	TaxRate      *float64
	TimeModified *time.Time
}

// Customer is one CustomerRet record.
type Customer struct {
	ListID       string
	Name         string
	FullName     string
	CompanyName  *string
	Email        *string
	Phone        *string
	IsActive     bool
	TimeModified *time.Time
}

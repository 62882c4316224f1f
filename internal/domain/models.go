package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProductType distinguishes purchases that need print fulfillment from
// digital-only purchases.
type ProductType string

const (
	ProductTypeDigital ProductType = "digital"
	ProductTypePrint   ProductType = "print"
)

// Purchase represents one purchased line item. All line items created in one
// checkout share an OrderReference.
type Purchase struct {
	ID               uuid.UUID
	OrderReference   string
	UserID           string
	ProductType      ProductType
	Price            int64 // minor currency units
	Currency         string
	Status           PurchaseStatus
	PaymentReference *string // processor charge id, set once a charge is attempted
	BookSize         *string // print customization
	SpineText        *string // print customization
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PrintOrder is the fulfillment-tracking record for one print-type Purchase.
// Multiple PrintOrders share one FulfillerOrderID when submitted as a batch;
// all records of a batch move through statuses together.
type PrintOrder struct {
	ID                     uuid.UUID
	PurchaseID             uuid.UUID
	FulfillerOrderID       *string // nil until the fulfiller accepts the submission
	Status                 PrintOrderStatus
	PaymentMethodReference string // captured-but-uncharged payment instrument
	TrackingCarrier        *string
	TrackingNumber         *string
	TrackingURL            *string
	DispatchedAt           *time.Time
	LastWebhookPayload     []byte // raw last-seen status payload, kept for diagnosis
	ErrorMessage           *string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Shipment carries the tracking details observed in a fulfiller status event.
type Shipment struct {
	Carrier        string
	TrackingNumber string
	TrackingURL    string
	DispatchDate   *time.Time
}

// FulfillmentEvent is the normalized form of a fulfiller status callback,
// regardless of which wire shape delivered it.
type FulfillmentEvent struct {
	FulfillerOrderID  string
	Stage             FulfillmentStage
	MerchantReference string
	Shipments         []Shipment
	Raw               []byte
}

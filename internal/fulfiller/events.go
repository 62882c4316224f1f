package fulfiller

import (
	"encoding/json"
	"fmt"

	"github.com/vesabooks/printapi/internal/domain"
)

// eventEnvelope is the generic event wrapper some fulfiller deployments send
// instead of the bare status payload.
type eventEnvelope struct {
	SpecVersion string `json:"specversion"`
	Type        string `json:"type"`
	Data        struct {
		Order *StatusPayload `json:"order"`
	} `json:"data"`
}

// ParseWebhook normalizes either webhook wire shape into one internal event:
// the enveloped form {specversion, type, data: {order: {...}}} or the bare
// status payload {id, status: {...}, shipments: [...], merchantReference}.
func ParseWebhook(body []byte) (*domain.FulfillmentEvent, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil &&
		envelope.SpecVersion != "" && envelope.Data.Order != nil {
		return envelope.Data.Order.ToEvent(body)
	}

	var payload StatusPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("unrecognized webhook payload: %w", err)
	}
	return payload.ToEvent(body)
}

// ToEvent converts a fulfiller status payload into the internal event form.
// raw is retained verbatim for diagnosis.
func (p *StatusPayload) ToEvent(raw []byte) (*domain.FulfillmentEvent, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("status payload has no order id")
	}

	event := &domain.FulfillmentEvent{
		FulfillerOrderID:  p.ID,
		Stage:             domain.ParseStage(p.Status.Stage),
		MerchantReference: p.MerchantReference,
		Raw:               raw,
	}

	for _, s := range p.Shipments {
		shipment := domain.Shipment{
			Carrier:        s.Carrier.Name,
			TrackingNumber: s.Tracking.Number,
			TrackingURL:    s.Tracking.URL,
		}
		if s.DispatchDate != nil && !s.DispatchDate.IsZero() {
			t := s.DispatchDate.Time
			shipment.DispatchDate = &t
		}
		event.Shipments = append(event.Shipments, shipment)
	}

	return event, nil
}

package stripe

import "encoding/json"

// expandableID reads a Stripe reference that is either an id string or an
// expanded object.
type expandableID struct {
	ID string
}

func (e *expandableID) UnmarshalJSON(b []byte) error {
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		e.ID = id
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	e.ID = obj.ID
	return nil
}

type invoiceSubscriptionDetails struct {
	Metadata     map[string]string `json:"metadata"`
	Subscription expandableID      `json:"subscription"`
}

// invoicePayload covers both the current invoice shape, where subscription
// data lives under parent, and the older top-level fields.
type invoicePayload struct {
	ID                  string                      `json:"id"`
	Status              string                      `json:"status"`
	Customer            expandableID                `json:"customer"`
	Subscription        expandableID                `json:"subscription"`
	SubscriptionDetails *invoiceSubscriptionDetails `json:"subscription_details"`
	Parent              *struct {
		SubscriptionDetails *invoiceSubscriptionDetails `json:"subscription_details"`
	} `json:"parent"`
}

func (i *invoicePayload) subscriptionDetails() invoiceSubscriptionDetails {
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil {
		return *i.Parent.SubscriptionDetails
	}
	if i.SubscriptionDetails != nil {
		return *i.SubscriptionDetails
	}
	return invoiceSubscriptionDetails{}
}

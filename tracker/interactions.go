package tracker

import "pricely/telemetry/models"

// Interaction is one observed interaction surface, decoupled from any UI
// toolkit. Each kind knows its canonical action name and the metadata it
// contributes to the emitted event.
type Interaction interface {
	Action() models.Action
	Metadata() models.Metadata
}

// ButtonClick captures a click on a button element.
type ButtonClick struct {
	ID    string
	Text  string
	Class string
	Type  string
}

func (b ButtonClick) Action() models.Action { return models.ActionButtonClick }

func (b ButtonClick) Metadata() models.Metadata {
	return models.Metadata{
		"buttonId":    orUnknown(b.ID),
		"buttonText":  b.Text,
		"buttonClass": b.Class,
		"buttonType":  orDefault(b.Type, "button"),
	}
}

// ProductClick captures a click on a product card.
type ProductClick struct {
	ID    string
	Name  string
	Class string
}

func (p ProductClick) Action() models.Action { return models.ActionProductClick }

func (p ProductClick) Metadata() models.Metadata {
	return models.Metadata{
		"productId":    orUnknown(p.ID),
		"productName":  orDefault(p.Name, "Unknown Product"),
		"productClass": p.Class,
	}
}

// PhoneView captures a view of a phone listing.
type PhoneView struct {
	ID        string
	Name      string
	ElementID string
}

func (p PhoneView) Action() models.Action { return models.ActionPhoneView }

func (p PhoneView) Metadata() models.Metadata {
	return models.Metadata{
		"phoneId":   orUnknown(p.ID),
		"phoneName": p.Name,
		"elementId": orUnknown(p.ElementID),
	}
}

// Navigation captures a followed link.
type Navigation struct {
	Text string
	Href string
	ID   string
}

func (n Navigation) Action() models.Action { return models.ActionNavigation }

func (n Navigation) Metadata() models.Metadata {
	return models.Metadata{
		"linkText": n.Text,
		"linkHref": n.Href,
		"linkId":   orUnknown(n.ID),
	}
}

// SocialClick captures a click on a social icon.
type SocialClick struct {
	Platform  string
	ElementID string
}

func (s SocialClick) Action() models.Action { return models.ActionSocialClick }

func (s SocialClick) Metadata() models.Metadata {
	return models.Metadata{
		"platform":  orUnknown(s.Platform),
		"elementId": orUnknown(s.ElementID),
	}
}

// FormSubmission captures a submitted form.
type FormSubmission struct {
	FormID string
}

func (f FormSubmission) Action() models.Action { return models.ActionFormSubmission }

func (f FormSubmission) Metadata() models.Metadata {
	return models.Metadata{"formId": orUnknown(f.FormID)}
}

// Search captures a search query.
type Search struct {
	Query       string
	ResultCount int
}

func (s Search) Action() models.Action { return models.ActionSearch }

func (s Search) Metadata() models.Metadata {
	return models.Metadata{
		"query":       s.Query,
		"resultCount": s.ResultCount,
	}
}

// PanelToggle captures opening or closing a collapsible panel.
type PanelToggle struct {
	Panel string
	Open  bool
}

func (p PanelToggle) Action() models.Action { return models.ActionTogglePanel }

func (p PanelToggle) Metadata() models.Metadata {
	return models.Metadata{
		"panel": orUnknown(p.Panel),
		"open":  p.Open,
	}
}

// PanelSwitch captures switching between panels (e.g. signin/signup).
type PanelSwitch struct {
	From string
	To   string
}

func (p PanelSwitch) Action() models.Action { return models.ActionSwitchPanel }

func (p PanelSwitch) Metadata() models.Metadata {
	return models.Metadata{
		"from": orUnknown(p.From),
		"to":   orUnknown(p.To),
	}
}

func orUnknown(s string) string { return orDefault(s, "unknown") }

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

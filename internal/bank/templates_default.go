package bank

import "github.com/clearslip/clearslip/internal/model"

// DefaultCatalog returns the built-in bank template catalog. It covers the
// transfer-confirmation layouts observed in production screenshots; a
// deployment normally replaces it with a published catalog file once
// `templates validate` shows acceptable hit-rates.
func DefaultCatalog() model.TemplateCatalog {
	return model.TemplateCatalog{
		Version:   1,
		Templates: defaultTemplates,
	}
}

var defaultTemplates = []model.BankTemplate{
	{
		Code:     "ABA",
		Name:     "ABA Bank",
		Keywords: []string{"ABA", "ABA PAY", "ABA Mobile", "abaa"},
		Recipient: []model.ExtractionPattern{
			{Regex: `(?i)transfer to[:\s]+([A-Za-z][A-Za-z .'\-]+)`, Confidence: 0.85, Priority: 1},
			{Regex: `(?i)paid to[:\s]+([A-Za-z][A-Za-z .'\-]+)`, Confidence: 0.8, Priority: 2},
			{Regex: `(?i)to account name[:\s]+([A-Za-z][A-Za-z .'\-]+)`, Confidence: 0.75, Priority: 3},
		},
		Account: []model.ExtractionPattern{
			{Regex: `(?i)account[:\s]+(\d[\d \-]{5,})`, Confidence: 0.85, Priority: 1},
			{Regex: `(?i)acc(?:ount)?\.? ?(?:no|number)[.:\s]+(\d[\d \-]{5,})`, Confidence: 0.8, Priority: 2},
		},
	},
	{
		Code:     "ACLEDA",
		Name:     "ACLEDA Bank",
		Keywords: []string{"ACLEDA", "ACLEDA Unity", "ToanChet"},
		Recipient: []model.ExtractionPattern{
			{Regex: `(?i)receiver(?: name)?[:\s]+([A-Za-z][A-Za-z .'\-]+)`, Confidence: 0.85, Priority: 1},
			{Regex: `(?i)beneficiary[:\s]+([A-Za-z][A-Za-z .'\-]+)`, Confidence: 0.8, Priority: 2},
		},
		Account: []model.ExtractionPattern{
			{Regex: `(?i)to a/c[:\s]+(\d[\d \-]{5,})`, Confidence: 0.85, Priority: 1},
			{Regex: `(?i)account (?:no|number)[.:\s]+(\d[\d \-]{5,})`, Confidence: 0.8, Priority: 2},
		},
	},
	{
		Code:     "WING",
		Name:     "Wing Bank",
		Keywords: []string{"Wing", "Wing Bank", "Wing Money"},
		Recipient: []model.ExtractionPattern{
			{Regex: `(?i)sent to[:\s]+([A-Za-z][A-Za-z .'\-]+)`, Confidence: 0.8, Priority: 1},
			{Regex: `(?i)receiver[:\s]+([A-Za-z][A-Za-z .'\-]+)`, Confidence: 0.75, Priority: 2},
		},
		Account: []model.ExtractionPattern{
			{Regex: `(?i)wing account[:\s]+(\d[\d \-]{3,})`, Confidence: 0.8, Priority: 1},
			{Regex: `(?i)phone(?: number)?[:\s]+(0\d[\d \-]{6,})`, Confidence: 0.7, Priority: 2},
		},
	},
	{
		Code:     "CANADIA",
		Name:     "Canadia Bank",
		Keywords: []string{"Canadia", "Canadia Bank"},
		Recipient: []model.ExtractionPattern{
			{Regex: `(?i)beneficiary name[:\s]+([A-Za-z][A-Za-z .'\-]+)`, Confidence: 0.85, Priority: 1},
			{Regex: `(?i)to[:\s]+([A-Za-z][A-Za-z .'\-]+)`, Confidence: 0.6, Priority: 5},
		},
		Account: []model.ExtractionPattern{
			{Regex: `(?i)beneficiary account[:\s]+(\d[\d \-]{5,})`, Confidence: 0.85, Priority: 1},
		},
	},
}

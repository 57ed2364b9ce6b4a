package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// VerificationStatus represents the lifecycle state of a payment screenshot.
type VerificationStatus string

const (
	StatusPending      VerificationStatus = "pending"
	StatusVerified     VerificationStatus = "verified"
	StatusRejected     VerificationStatus = "rejected"
	StatusManualReview VerificationStatus = "manual_review"
)

// Terminal reports whether no further transitions are allowed from s.
func (s VerificationStatus) Terminal() bool {
	return s == StatusVerified || s == StatusRejected
}

// PaymentScreenshot is a submitted bank-transfer screenshot awaiting
// verification. CustomerID may be empty until the payment is resolved to a
// customer.
type PaymentScreenshot struct {
	ID              string             `json:"id"`
	TenantID        string             `json:"tenant_id"`
	CustomerID      string             `json:"customer_id,omitempty"`
	InvoiceID       string             `json:"invoice_id"`
	OCRText         string             `json:"ocr_text"`
	DeclaredAmount  decimal.Decimal    `json:"declared_amount"`
	Currency        string             `json:"currency"`
	BankName        string             `json:"bank_name,omitempty"`
	Recipient       string             `json:"recipient,omitempty"`
	Account         string             `json:"account,omitempty"`
	Status          VerificationStatus `json:"status"`
	ConfidenceScore *float64           `json:"confidence_score,omitempty"`
	UploadedAt      time.Time          `json:"uploaded_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// PendingVerification is the operator-facing projection of a screenshot
// waiting in the review queue.
type PendingVerification struct {
	InvoiceID       string             `json:"invoice_id"`
	TenantID        string             `json:"tenant_id"`
	CustomerID      string             `json:"customer_id,omitempty"`
	Status          VerificationStatus `json:"status"`
	BankName        string             `json:"bank_name,omitempty"`
	Recipient       string             `json:"recipient,omitempty"`
	Account         string             `json:"account,omitempty"`
	DeclaredAmount  decimal.Decimal    `json:"declared_amount"`
	Currency        string             `json:"currency"`
	ConfidenceScore *float64           `json:"confidence_score,omitempty"`
	UploadedAt      time.Time          `json:"uploaded_at"`
}

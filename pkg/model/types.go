package model

import (
	"strings"
	"time"
)

type UserKey string

// Portal identifies one of the third-party check targets.
type Portal string

const (
	PortalInspection Portal = "inspection"
	PortalInsurance  Portal = "insurance"
	PortalVignette   Portal = "vignette"
	PortalFines      Portal = "fines"
)

// Stage is the adapter-defined phase a held session is in.
type Stage string

const (
	StageAwaitingCaptcha Stage = "awaiting_captcha"
	StageSubmitted       Stage = "submitted"
)

// CheckRequest carries the inputs for one portal check. Immutable once built.
type CheckRequest struct {
	User          UserKey
	Plate         string
	NationalID    string
	LicenseNumber string
	CaptchaAnswer string
}

// NormalizedPlate strips all whitespace and upper-cases the registration
// number; adapters submit this form, never the raw input.
func (r CheckRequest) NormalizedPlate() string {
	return NormalizePlate(r.Plate)
}

func NormalizePlate(plate string) string {
	return strings.ToUpper(strings.Join(strings.Fields(plate), ""))
}

// CaptchaChallenge is the phase-one output of the inspection flow: the
// portal's challenge image, to be shown to a human.
type CaptchaChallenge struct {
	Image []byte `json:"image"`
	MIME  string `json:"mime"`
}

// InsuranceRaw is the in-page extraction from the insurance portal's result
// container, prior to normalization.
type InsuranceRaw struct {
	Found      bool   `json:"found"`
	StatusText string `json:"statusText"`
	Insurer    string `json:"insurer"`
	StartDate  string `json:"startDate"`
	EndDate    string `json:"endDate"`
}

// FinesRaw is the banner set read from the fines portal after submit.
type FinesRaw struct {
	Banners []string `json:"banners"`
}

// Extraction is the raw output of one adapter run; exactly one per-portal
// field is populated, discriminated by Portal.
type Extraction struct {
	Portal Portal

	InspectionHTML string
	Insurance      *InsuranceRaw
	VignetteHTML   string
	Fines          *FinesRaw
}

// InspectionResult is the normalized outcome of a periodic technical
// inspection lookup. Optional fields are nil when the portal omitted them.
type InspectionResult struct {
	Passed    bool       `json:"passed"`
	Plate     string     `json:"plate"`
	EcoClass  *string    `json:"ecoClass,omitempty"`
	ValidTo   string     `json:"validTo"`
	ValidDate *time.Time `json:"-"`
	VIN       *string    `json:"vin,omitempty"`
}

type InsuranceResult struct {
	Active    bool    `json:"active"`
	Insurer   *string `json:"insurer,omitempty"`
	ValidFrom *string `json:"validFrom,omitempty"`
	ValidTo   *string `json:"validTo,omitempty"`
}

type VignetteEntry struct {
	ID        string `json:"id"`
	ValidFrom string `json:"validFrom"`
	ValidTo   string `json:"validTo"`
	Price     string `json:"price"`
	Active    bool   `json:"active"`
}

// VignetteResult lists every vignette the toll operator returned for the
// plate; an empty list is a valid "no active vignette" outcome.
type VignetteResult struct {
	Entries []VignetteEntry `json:"entries"`
}

type FinesResult struct {
	HasFines bool     `json:"hasFines"`
	Messages []string `json:"messages"`
}

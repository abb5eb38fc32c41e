package models

import (
	"fmt"
	"time"
)

// PredictionTTL is how long a prediction stays in the local history
const PredictionTTL = 30 * 24 * time.Hour

// PredictionInputs is the crop recommendation form as submitted.
// Nil fields were left empty.
type PredictionInputs struct {
	N           *float64 `json:"N"`
	P           *float64 `json:"P"`
	K           *float64 `json:"K"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	PH          *float64 `json:"ph"`
	Rainfall    *float64 `json:"rainfall"`
}

// PredictionValues are validated inputs, the body sent to the prediction API
type PredictionValues struct {
	N           float64 `json:"N"`
	P           float64 `json:"P"`
	K           float64 `json:"K"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	PH          float64 `json:"ph"`
	Rainfall    float64 `json:"rainfall"`
}

type inputRange struct {
	field    string
	min, max float64
	value    func(in *PredictionInputs) *float64
}

var predictionRanges = []inputRange{
	{"N", 0, 200, func(in *PredictionInputs) *float64 { return in.N }},
	{"P", 0, 200, func(in *PredictionInputs) *float64 { return in.P }},
	{"K", 0, 200, func(in *PredictionInputs) *float64 { return in.K }},
	{"temperature", -20, 60, func(in *PredictionInputs) *float64 { return in.Temperature }},
	{"humidity", 0, 100, func(in *PredictionInputs) *float64 { return in.Humidity }},
	{"ph", 0, 14, func(in *PredictionInputs) *float64 { return in.PH }},
	{"rainfall", 0, 1000, func(in *PredictionInputs) *float64 { return in.Rainfall }},
}

// Validate checks every field and reports all violations at once
func (in *PredictionInputs) Validate() error {
	verr := &ValidationError{}
	for _, r := range predictionRanges {
		v := r.value(in)
		if v == nil {
			verr.Add(r.field, "is required")
			continue
		}
		if *v < r.min || *v > r.max {
			verr.Add(r.field, fmt.Sprintf("must be between %g and %g", r.min, r.max))
		}
	}
	return verr.OrNil()
}

// Values returns the inputs with empty fields as zero. Call Validate first.
func (in *PredictionInputs) Values() PredictionValues {
	deref := func(v *float64) float64 {
		if v == nil {
			return 0
		}
		return *v
	}
	return PredictionValues{
		N:           deref(in.N),
		P:           deref(in.P),
		K:           deref(in.K),
		Temperature: deref(in.Temperature),
		Humidity:    deref(in.Humidity),
		PH:          deref(in.PH),
		Rainfall:    deref(in.Rainfall),
	}
}

// PredictionRecord is one entry of the prediction history
type PredictionRecord struct {
	ID string `json:"id"`
	PredictionValues
	PredictedLabel string    `json:"predicted_crop"`
	CreatedAt      time.Time `json:"timestamp"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// NewPredictionRecord stamps a successful prediction with its expiry
func NewPredictionRecord(id string, values PredictionValues, label string, now time.Time) *PredictionRecord {
	return &PredictionRecord{
		ID:               id,
		PredictionValues: values,
		PredictedLabel:   label,
		CreatedAt:        now,
		ExpiresAt:        now.Add(PredictionTTL),
	}
}

// Expired reports whether the record is past its expiry at now
func (r *PredictionRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

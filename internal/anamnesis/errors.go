package anamnesis

import "errors"

var (
	// ErrRecordNotFound indicates the record does not exist within the clinic scope.
	ErrRecordNotFound = errors.New("anamnesis: record not found")
	// ErrMissingClinicID indicates the tenant context was incomplete.
	ErrMissingClinicID = errors.New("anamnesis: clinic id is required")
	// ErrMissingProfessionalID indicates the tenant context was incomplete.
	ErrMissingProfessionalID = errors.New("anamnesis: professional id is required")
	// ErrMissingPatient indicates neither a patient reference nor manual data was supplied.
	ErrMissingPatient = errors.New("anamnesis: patient reference or manual patient data is required")
	// ErrAmbiguousPatient indicates both a patient reference and manual data were supplied.
	ErrAmbiguousPatient = errors.New("anamnesis: patient reference and manual patient data are mutually exclusive")
)

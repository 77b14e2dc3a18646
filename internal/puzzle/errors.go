package puzzle

import "errors"

var (
	ErrAlreadyExists              = errors.New("puzzle state already exists")
	ErrSeedNotFound               = errors.New("puzzle state not found")
	ErrSeedInactive               = errors.New("seed is currently inactive")
	ErrInvalidProof               = errors.New("proof of incompleteness failed (invalid salt)")
	ErrContextualIncoherence      = errors.New("harmonic coherence score too low: context does not justify the interval")
	ErrUnrecognizedInterpretation = errors.New("unrecognized interval interpretation")
	ErrMintRejected               = errors.New("mint request rejected")
)

// Error codes reported to clients.
const (
	CodeAlreadyExists              = "already_exists"
	CodeSeedNotFound               = "seed_not_found"
	CodeSeedInactive               = "seed_inactive"
	CodeInvalidProof               = "invalid_proof"
	CodeContextualIncoherence      = "contextual_incoherence"
	CodeUnrecognizedInterpretation = "unrecognized_interpretation"
	CodeMintRejected               = "mint_rejected"
	CodeInternal                   = "internal"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrAlreadyExists, CodeAlreadyExists},
	{ErrSeedNotFound, CodeSeedNotFound},
	{ErrSeedInactive, CodeSeedInactive},
	{ErrInvalidProof, CodeInvalidProof},
	{ErrContextualIncoherence, CodeContextualIncoherence},
	{ErrUnrecognizedInterpretation, CodeUnrecognizedInterpretation},
	{ErrMintRejected, CodeMintRejected},
}

// Code returns the stable client-facing code for err, or "" for nil.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// IsRetryableByCaller reports whether a rewording of the claim could succeed.
func IsRetryableByCaller(err error) bool {
	return errors.Is(err, ErrContextualIncoherence) || errors.Is(err, ErrUnrecognizedInterpretation)
}

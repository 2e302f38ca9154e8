package usecase

import (
	"mobile-iap-subscription/internal/domain"
	"mobile-iap-subscription/internal/domain/model"
	"mobile-iap-subscription/internal/domain/ports/adapter"
)

// ValidatorRegistry routes a platform identifier to its receipt validator.
// The mapping is built once at startup and never mutated, so a deployment can
// run with a single store configured without special-casing call sites.
type ValidatorRegistry struct {
	validators map[model.Platform]adapter.ReceiptValidator
}

// NewValidatorRegistry builds the immutable platform->validator mapping.
// Registering two validators for the same platform is a wiring mistake and
// fails construction instead of silently keeping the last one.
func NewValidatorRegistry(validators ...adapter.ReceiptValidator) (*ValidatorRegistry, error) {
	m := make(map[model.Platform]adapter.ReceiptValidator, len(validators))
	for _, v := range validators {
		if v == nil {
			return nil, domain.ErrInvalidArgument
		}
		if _, dup := m[v.Platform()]; dup {
			return nil, domain.ErrInvalidArgument
		}
		m[v.Platform()] = v
	}
	return &ValidatorRegistry{validators: m}, nil
}

// Resolve returns the validator for platform or ErrPlatformNotSupported.
func (r *ValidatorRegistry) Resolve(platform model.Platform) (adapter.ReceiptValidator, error) {
	v, ok := r.validators[platform]
	if !ok {
		return nil, domain.ErrPlatformNotSupported
	}
	return v, nil
}

func (r *ValidatorRegistry) IsSupported(platform model.Platform) bool {
	_, ok := r.validators[platform]
	return ok
}

// SupportedPlatforms is used by startup wiring and logging only.
func (r *ValidatorRegistry) SupportedPlatforms() []model.Platform {
	out := make([]model.Platform, 0, len(r.validators))
	for p := range r.validators {
		out = append(out, p)
	}
	return out
}

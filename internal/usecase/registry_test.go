// File: internal/usecase/registry_test.go
package usecase

import (
	"errors"
	"testing"

	"mobile-iap-subscription/internal/domain"
	"mobile-iap-subscription/internal/domain/model"
)

func TestValidatorRegistry(t *testing.T) {
	t.Run("resolves a registered platform", func(t *testing.T) {
		apple := &mockValidator{platform: model.PlatformIOS}
		reg, err := NewValidatorRegistry(apple)
		if err != nil {
			t.Fatalf("NewValidatorRegistry: %v", err)
		}

		got, err := reg.Resolve(model.PlatformIOS)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if got != apple {
			t.Fatal("expected the registered validator back")
		}
		if !reg.IsSupported(model.PlatformIOS) {
			t.Fatal("expected ios to be supported")
		}
	})

	t.Run("unregistered platform returns ErrPlatformNotSupported", func(t *testing.T) {
		reg, err := NewValidatorRegistry(&mockValidator{platform: model.PlatformIOS})
		if err != nil {
			t.Fatalf("NewValidatorRegistry: %v", err)
		}

		if _, err := reg.Resolve(model.PlatformAndroid); !errors.Is(err, domain.ErrPlatformNotSupported) {
			t.Fatalf("expected ErrPlatformNotSupported, got %v", err)
		}
		if reg.IsSupported(model.PlatformAndroid) {
			t.Fatal("android must not be supported")
		}
	})

	t.Run("duplicate platform fails construction", func(t *testing.T) {
		_, err := NewValidatorRegistry(
			&mockValidator{platform: model.PlatformIOS},
			&mockValidator{platform: model.PlatformIOS},
		)
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("nil validator fails construction", func(t *testing.T) {
		if _, err := NewValidatorRegistry(nil); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("empty registry supports nothing", func(t *testing.T) {
		reg, err := NewValidatorRegistry()
		if err != nil {
			t.Fatalf("NewValidatorRegistry: %v", err)
		}
		if len(reg.SupportedPlatforms()) != 0 {
			t.Fatal("expected no supported platforms")
		}
	})
}

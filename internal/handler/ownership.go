package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/josh-kwaku/piggybank/internal/auth"
	"github.com/josh-kwaku/piggybank/internal/domain"
)

type childDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Child, error)
	GetByFamilyID(ctx context.Context, familyID uuid.UUID) ([]domain.Child, error)
}

func claimsFrom(r *http.Request) (*auth.Claims, *AppError) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		return nil, ErrMissingToken
	}
	return claims, nil
}

func idFromPath(r *http.Request) (uuid.UUID, *AppError) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, ErrResourceNotFound
	}
	return id, nil
}

// familyChild loads the child and checks it belongs to the caller's family.
func familyChild(ctx context.Context, children childDirectory, claims *auth.Claims, childID uuid.UUID) (*domain.Child, error) {
	child, err := children.GetByID(ctx, childID)
	if err != nil {
		return nil, fmt.Errorf("familyChild: %w", err)
	}
	if child.FamilyID != claims.FamilyID {
		return nil, fmt.Errorf("familyChild: child %s: %w", childID, domain.ErrForbidden)
	}
	return child, nil
}

// canViewChild allows parents of the child's family and the child itself.
func canViewChild(ctx context.Context, children childDirectory, claims *auth.Claims, childID uuid.UUID) error {
	if claims.Role == auth.RoleChild {
		if claims.UserID != childID {
			return fmt.Errorf("canViewChild: %w", domain.ErrForbidden)
		}
		return nil
	}
	_, err := familyChild(ctx, children, claims, childID)
	return err
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

type ParentRole string

const (
	ParentRoleOwner    ParentRole = "owner"
	ParentRoleCoParent ParentRole = "co_parent"
)

type Family struct {
	ID         uuid.UUID
	Name       string
	FamilyCode string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type ParentAdmin struct {
	ID           uuid.UUID
	FamilyID     uuid.UUID
	Username     string
	Name         string
	PasswordHash string
	Role         ParentRole
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

package testutil

import (
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/josh-kwaku/piggybank/internal/domain"
)

func hash(t *testing.T, secret string) string {
	t.Helper()

	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash secret: %v", err)
	}
	return string(h)
}

func SeedFamily(t *testing.T, db *sql.DB, name string) *domain.Family {
	t.Helper()

	f := &domain.Family{
		ID:         uuid.New(),
		Name:       name,
		FamilyCode: strings.ToUpper(uuid.NewString()[:8]),
		CreatedAt:  time.Now().UTC(),
	}
	_, err := db.Exec(
		`INSERT INTO families (id, name, family_code, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)`,
		f.ID, f.Name, f.FamilyCode, f.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed family %s: %v", name, err)
	}
	return f
}

func SeedParent(t *testing.T, db *sql.DB, familyID uuid.UUID, username string) *domain.ParentAdmin {
	t.Helper()

	p := &domain.ParentAdmin{
		ID:           uuid.New(),
		FamilyID:     familyID,
		Username:     username,
		Name:         username,
		PasswordHash: hash(t, "password123"),
		Role:         domain.ParentRoleOwner,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := db.Exec(
		`INSERT INTO parent_admins (id, family_id, username, name, password_hash, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		p.ID, p.FamilyID, p.Username, p.Name, p.PasswordHash, p.Role, p.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed parent %s: %v", username, err)
	}
	return p
}

// SeedChild inserts a child with a zero balance. Balances only move through
// the ledger so that replaying it reproduces the stored balance.
func SeedChild(t *testing.T, db *sql.DB, familyID uuid.UUID, username string) *domain.Child {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Microsecond)
	c := &domain.Child{
		ID:           uuid.New(),
		FamilyID:     familyID,
		Username:     username,
		Name:         username,
		PasswordHash: hash(t, "1234"),
		Balance:      decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err := db.Exec(
		`INSERT INTO children (id, family_id, username, name, password_hash, balance, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 0, 0, $6, $7)`,
		c.ID, c.FamilyID, c.Username, c.Name, c.PasswordHash, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("seed child %s: %v", username, err)
	}
	return c
}

func GetChildBalance(t *testing.T, db *sql.DB, childID uuid.UUID) decimal.Decimal {
	t.Helper()

	var balance decimal.Decimal
	err := db.QueryRow(`SELECT balance FROM children WHERE id = $1`, childID).Scan(&balance)
	if err != nil {
		t.Fatalf("get child balance %s: %v", childID, err)
	}
	return balance
}

func CountLedgerEntries(t *testing.T, db *sql.DB, childID uuid.UUID) int {
	t.Helper()

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM ledger_entries WHERE child_id = $1`, childID).Scan(&count)
	if err != nil {
		t.Fatalf("count ledger entries for child %s: %v", childID, err)
	}
	return count
}

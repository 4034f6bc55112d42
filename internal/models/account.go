package models

import (
	"time"

	"github.com/google/uuid"
)

// SystemActorID identifies automated actions (auto refunds, sweeper) in audit records.
var SystemActorID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// SystemActor is written to processed_by for actions taken without a human reviewer.
const SystemActor = "SYSTEM"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is an authenticated identity. Its ID doubles as the credit account ID.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// AccountBalance is the single mutable row per account. Balance is never negative.
type AccountBalance struct {
	AccountID uuid.UUID `json:"account_id"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

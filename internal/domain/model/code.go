package model

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// MaskRune fills the hidden part of a mask. Codes may not contain it, or the
// visible ends of a mask could join the filler into a longer run of the code.
const MaskRune = '*'

// Code is a single encrypted access credential belonging to one plan.
// Codes are never updated: they are inserted and later deleted, either when
// claimed or by an administrator.
type Code struct {
	ID          string
	PlanID      string
	Ciphertext  string
	Fingerprint string
	Mask        string
	CreatedAt   time.Time
}

// CodeView is the public projection of a Code. It never carries the
// plaintext or the ciphertext.
type CodeView struct {
	ID        string    `json:"codeId"`
	PlanID    string    `json:"planId"`
	Mask      string    `json:"mask"`
	CreatedAt time.Time `json:"createdAt"`
}

func (c *Code) View() CodeView {
	return CodeView{ID: c.ID, PlanID: c.PlanID, Mask: c.Mask, CreatedAt: c.CreatedAt}
}

// ClaimReceipt records that one code was removed and handed to one caller.
// It holds no secret material.
type ClaimReceipt struct {
	ID         string    `json:"receiptId"`
	PlanID     string    `json:"planId"`
	CodeID     string    `json:"codeId"`
	Mask       string    `json:"mask"`
	PaymentRef *string   `json:"paymentRef,omitempty"`
	ClaimedAt  time.Time `json:"claimedAt"`
}

// NewClaimReceipt starts a receipt for a pending claim. CodeID and Mask are
// filled in by the vault once a row has been taken.
func NewClaimReceipt(planID, paymentRef string) *ClaimReceipt {
	now := time.Now().UTC()
	r := &ClaimReceipt{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		PlanID:    planID,
		ClaimedAt: now,
	}
	if paymentRef != "" {
		r.PaymentRef = &paymentRef
	}
	return r
}

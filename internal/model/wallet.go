package model

import (
	"fmt"
	"strings"
)

// OwnerType says whether a wallet belongs to a user or to a project.
type OwnerType string

const (
	OwnerUser    OwnerType = "USER"
	OwnerProject OwnerType = "PROJECT"
)

func (t OwnerType) Valid() bool {
	return t == OwnerUser || t == OwnerProject
}

// ProductCategory groups products of one provider that share a wallet.
type ProductCategory struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
}

func (c ProductCategory) String() string {
	return c.ID + "/" + c.Provider
}

// Wallet identifies one balance row: an owner and a product category.
type Wallet struct {
	AccountID string          `json:"account_id"`
	Type      OwnerType       `json:"account_type"`
	Category  ProductCategory `json:"product_category"`
}

// Validate reports malformed wallet references as ErrBadRequest.
func (w Wallet) Validate() error {
	if strings.TrimSpace(w.AccountID) == "" {
		return fmt.Errorf("%w: wallet account id is empty", ErrBadRequest)
	}
	if !w.Type.Valid() {
		return fmt.Errorf("%w: unknown wallet owner type %q", ErrBadRequest, w.Type)
	}
	if w.Category.ID == "" || w.Category.Provider == "" {
		return fmt.Errorf("%w: wallet product category is incomplete", ErrBadRequest)
	}
	return nil
}

// Key is a stable textual form of the wallet, used for locks and log fields.
func (w Wallet) Key() string {
	return fmt.Sprintf("%s:%s:%s:%s", w.Type, w.AccountID, w.Category.ID, w.Category.Provider)
}

// WithAccount returns the same product category wallet owned by another account.
func (w Wallet) WithAccount(accountID string, typ OwnerType) Wallet {
	return Wallet{AccountID: accountID, Type: typ, Category: w.Category}
}

type WalletBalance struct {
	Wallet  Wallet `json:"wallet"`
	Balance int64  `json:"balance"`
}

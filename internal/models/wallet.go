package models

import "gorm.io/gorm"

// Wallet is one node of the user's wallet hierarchy.
// A nil ParentID marks a root wallet.
type Wallet struct {
	gorm.Model
	Name     string `gorm:"not null" json:"name"`
	ParentID *uint  `gorm:"index" json:"parent_id,omitempty"`
}

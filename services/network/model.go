package network

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// rank orders priorities for product selection, lowest rank first.
func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// WishlistItem is one entry of a member's public wishlist.
type WishlistItem struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Price    int64    `json:"price"`
	URL      string   `json:"url"`
	Priority Priority `json:"priority,omitempty"`
}

// Profile is the public face of a member inside the aid network. Wishlist is
// a JSON column holding []WishlistItem.
type Profile struct {
	UserID      string         `gorm:"column:user_id;primaryKey" json:"user_id"`
	Name        string         `gorm:"column:name" json:"name"`
	// Tier is the tier recorded at the last profile write. Target selection
	// reads the live tier from tier_states, not this column.
	Tier int `gorm:"column:tier;index" json:"tier"`
	WishlistURL string         `gorm:"column:wishlist_url" json:"wishlist_url,omitempty"`
	Wishlist    datatypes.JSON `gorm:"column:wishlist" json:"wishlist,omitempty"`
	UpdatedAt   time.Time      `gorm:"column:updated_at" json:"-"`
}

func (Profile) TableName() string { return "network_profiles" }

// Items decodes the wishlist JSON column.
func (p *Profile) Items() ([]WishlistItem, error) {
	if len(p.Wishlist) == 0 {
		return nil, nil
	}
	var items []WishlistItem
	if err := json.Unmarshal(p.Wishlist, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Recommendation pairs a purchase target with the wishlist item to buy.
type Recommendation struct {
	Profile *Profile     `json:"profile"`
	Item    WishlistItem `json:"item"`
}

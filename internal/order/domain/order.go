package domain

import "time"

// Order is the aggregate owned by the fulfillment saga. Item and option
// prices are snapshots taken at creation time; they are never re-read from
// the catalog afterwards.
type Order struct {
	ID            string
	OrderNumber   string
	StoreID       string
	UserID        int
	Status        Status
	PickupTime    string
	EstimatedTime int
	Reason        string
	CancelledBy   CancelledBy
	Items         []OrderItem
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type OrderItem struct {
	MenuID   string
	MenuName string
	Price    int64
	Quantity int
	Options  []ItemOption
}

type ItemOption struct {
	OptionID string
	Name     string
	Price    int64
}

// TotalAmount sums the snapshotted item and option prices.
func (o *Order) TotalAmount() int64 {
	var total int64
	for _, it := range o.Items {
		total += it.Price * int64(it.Quantity)
		for _, opt := range it.Options {
			total += opt.Price
		}
	}
	return total
}

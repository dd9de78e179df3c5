package model

import "time"

// SaleStatus is the lifecycle state of a sale record.
type SaleStatus string

const (
	SaleNew       SaleStatus = "new"
	SaleConfirmed SaleStatus = "confirmed"
	SaleDelivered SaleStatus = "delivered"
	SaleCancelled SaleStatus = "cancelled"
)

// ValidSaleStatus reports whether s is one of the known sale statuses.
func ValidSaleStatus(s SaleStatus) bool {
	switch s {
	case SaleNew, SaleConfirmed, SaleDelivered, SaleCancelled:
		return true
	}
	return false
}

// Sale is a CRM record of a customer purchase or order, tracked by staff.
type Sale struct {
	ID            int64      `json:"id" db:"id"`
	ProductID     int64      `json:"product_id" db:"product_id"`
	CustomerName  string     `json:"customer_name" db:"customer_name"`
	CustomerPhone string     `json:"customer_phone" db:"customer_phone"`
	Quantity      int        `json:"quantity" db:"quantity"`
	Amount        int64      `json:"amount" db:"amount"` // minor units
	Status        SaleStatus `json:"status" db:"status"`
	Note          string     `json:"note" db:"note"`
	CreatedBy     int64      `json:"created_by" db:"created_by"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

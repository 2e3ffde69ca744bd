package httpx

type CreateOrderRequest struct {
	StoreID    string               `json:"store_id"`
	UserID     int                  `json:"user_id"`
	PickupTime string               `json:"pickup_time,omitempty"`
	Items      []CreateOrderItemDTO `json:"items"`
}

type CreateOrderItemDTO struct {
	MenuID   string          `json:"menu_id"`
	MenuName string          `json:"menu_name,omitempty"`
	Price    int64           `json:"price"`
	Quantity int             `json:"quantity"`
	Options  []ItemOptionDTO `json:"options,omitempty"`
}

type ItemOptionDTO struct {
	OptionID string `json:"option_id"`
	Name     string `json:"name,omitempty"`
	Price    int64  `json:"price"`
}

type CreateOrderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type OrderResponse struct {
	ID            string              `json:"id"`
	OrderNumber   string              `json:"order_number"`
	StoreID       string              `json:"store_id"`
	UserID        int                 `json:"user_id"`
	Status        string              `json:"status"`
	PickupTime    string              `json:"pickup_time,omitempty"`
	EstimatedTime int                 `json:"estimated_time,omitempty"`
	Reason        string              `json:"reason,omitempty"`
	CancelledBy   string              `json:"cancelled_by,omitempty"`
	TotalAmount   int64               `json:"total_amount"`
	Items         []OrderItemResponse `json:"items"`
	CreatedAt     string              `json:"created_at"`
	UpdatedAt     string              `json:"updated_at"`
}

type OrderItemResponse struct {
	MenuID   string          `json:"menu_id"`
	MenuName string          `json:"menu_name,omitempty"`
	Price    int64           `json:"price"`
	Quantity int             `json:"quantity"`
	Options  []ItemOptionDTO `json:"options,omitempty"`
}

type UpdateStatusRequest struct {
	Status        string `json:"status"`
	EstimatedTime *int   `json:"estimated_time,omitempty"`
	Reason        string `json:"reason,omitempty"`
	CancelledBy   string `json:"cancelled_by,omitempty"`
}

type UpdateStatusResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type SagaResponse struct {
	ID      string             `json:"id"`
	Handler string             `json:"handler"`
	Status  string             `json:"status"`
	Error   string             `json:"error,omitempty"`
	Steps   []SagaStepResponse `json:"steps"`
}

type SagaStepResponse struct {
	Seq        int    `json:"seq"`
	Kind       string `json:"kind"`
	Name       string `json:"name,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	RecordedAt string `json:"recorded_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

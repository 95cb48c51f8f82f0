package domain

// PriceBreakdown is derived at reservation time and stored inside the
// BookingRecord. All amounts are whole currency units.
type PriceBreakdown struct {
	Lines      []LineCharge  `json:"lines"`
	AddOns     []AddOnCharge `json:"add_ons,omitempty"`
	Nights     int           `json:"nights,omitempty"`
	Subtotal   int64         `json:"subtotal"`
	Tax        int64         `json:"tax"`
	ServiceFee int64         `json:"service_fee"`
	Total      int64         `json:"total"`
}

type LineCharge struct {
	Category  string `json:"category"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	Amount    int64  `json:"amount"`
}

type AddOnCharge struct {
	Code     string `json:"code"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
	Amount   int64  `json:"amount"`
}

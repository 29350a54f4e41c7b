package routes

import "github.com/aman-churiwal/capital-proxy/internal/upstream"

type SwitchAccountRequest struct {
	AccountID string `json:"accountId" binding:"required"`
}

type TopUpRequest struct {
	Amount float64 `json:"amount" binding:"required,gt=0"`
}

// Only the two known preference keys are forwarded
type PreferencesRequest struct {
	Leverages   map[string]int `json:"leverages,omitempty"`
	HedgingMode *bool          `json:"hedgingMode,omitempty"`
}

func (r *PreferencesRequest) Validate() error {
	if len(r.Leverages) == 0 && r.HedgingMode == nil {
		return &ValidationError{
			Fields:  []string{"leverages", "hedgingMode"},
			Message: "at least one preference is required",
		}
	}
	return nil
}

type CreatePositionRequest struct {
	Epic           string   `json:"epic" binding:"required"`
	Direction      string   `json:"direction" binding:"required,oneof=BUY SELL"`
	Size           float64  `json:"size" binding:"required,gt=0"`
	Leverage       float64  `json:"leverage,omitempty" binding:"omitempty,gt=0"`
	GuaranteedStop bool     `json:"guaranteedStop"`
	TrailingStop   bool     `json:"trailingStop"`
	StopLevel      *float64 `json:"stopLevel,omitempty"`
	StopDistance   *float64 `json:"stopDistance,omitempty"`
	StopAmount     *float64 `json:"stopAmount,omitempty"`
	ProfitLevel    *float64 `json:"profitLevel,omitempty"`
	ProfitDistance *float64 `json:"profitDistance,omitempty"`
	ProfitAmount   *float64 `json:"profitAmount,omitempty"`
}

// Fields left nil are not sent, so the upstream keeps their current values
type UpdatePositionRequest struct {
	GuaranteedStop *bool    `json:"guaranteedStop,omitempty"`
	TrailingStop   *bool    `json:"trailingStop,omitempty"`
	StopLevel      *float64 `json:"stopLevel,omitempty"`
	StopDistance   *float64 `json:"stopDistance,omitempty"`
	StopAmount     *float64 `json:"stopAmount,omitempty"`
	ProfitLevel    *float64 `json:"profitLevel,omitempty"`
	ProfitDistance *float64 `json:"profitDistance,omitempty"`
	ProfitAmount   *float64 `json:"profitAmount,omitempty"`
}

type CreateWorkingOrderRequest struct {
	Epic           string   `json:"epic" binding:"required"`
	Direction      string   `json:"direction" binding:"required,oneof=BUY SELL"`
	Size           float64  `json:"size" binding:"required,gt=0"`
	Level          float64  `json:"level" binding:"required,gt=0"`
	Type           string   `json:"type" binding:"required,oneof=LIMIT STOP"`
	GoodTillDate   string   `json:"goodTillDate,omitempty"`
	GuaranteedStop bool     `json:"guaranteedStop"`
	TrailingStop   bool     `json:"trailingStop"`
	StopLevel      *float64 `json:"stopLevel,omitempty"`
	StopDistance   *float64 `json:"stopDistance,omitempty"`
	StopAmount     *float64 `json:"stopAmount,omitempty"`
	ProfitLevel    *float64 `json:"profitLevel,omitempty"`
	ProfitDistance *float64 `json:"profitDistance,omitempty"`
	ProfitAmount   *float64 `json:"profitAmount,omitempty"`
}

type UpdateWorkingOrderRequest struct {
	Level          *float64 `json:"level,omitempty" binding:"omitempty,gt=0"`
	GoodTillDate   *string  `json:"goodTillDate,omitempty"`
	GuaranteedStop *bool    `json:"guaranteedStop,omitempty"`
	TrailingStop   *bool    `json:"trailingStop,omitempty"`
	StopLevel      *float64 `json:"stopLevel,omitempty"`
	StopDistance   *float64 `json:"stopDistance,omitempty"`
	StopAmount     *float64 `json:"stopAmount,omitempty"`
	ProfitLevel    *float64 `json:"profitLevel,omitempty"`
	ProfitDistance *float64 `json:"profitDistance,omitempty"`
	ProfitAmount   *float64 `json:"profitAmount,omitempty"`
}

type CreateWatchlistRequest struct {
	Name  string   `json:"name" binding:"required,min=1,max=20"`
	Epics []string `json:"epics,omitempty"`
}

type AddToWatchlistRequest struct {
	Epic string `json:"epic" binding:"required"`
}

// Query parameters accepted by the listing endpoints. Empty values are
// dropped before the call is sent.

type MarketsQuery struct {
	SearchTerm string `form:"searchTerm"`
	Epics      string `form:"epics"` // comma separated, up to 50
}

func (q MarketsQuery) Query() upstream.Query {
	return upstream.Query{"searchTerm": q.SearchTerm, "epics": q.Epics}
}

type NavigationQuery struct {
	Limit *int `form:"limit" binding:"omitempty,min=1,max=500"`
}

func (q NavigationQuery) Query() upstream.Query {
	return upstream.Query{"limit": q.Limit}
}

type PricesQuery struct {
	Resolution string `form:"resolution" binding:"omitempty,oneof=MINUTE MINUTE_5 MINUTE_15 MINUTE_30 HOUR HOUR_4 DAY WEEK"`
	Max        *int   `form:"max" binding:"omitempty,min=1,max=1000"`
	From       string `form:"from"`
	To         string `form:"to"`
}

func (q PricesQuery) Query() upstream.Query {
	return upstream.Query{"resolution": q.Resolution, "max": q.Max, "from": q.From, "to": q.To}
}

type SentimentQuery struct {
	MarketIDs string `form:"marketIds" binding:"required"`
}

func (q SentimentQuery) Query() upstream.Query {
	return upstream.Query{"marketIds": q.MarketIDs}
}

type ActivityQuery struct {
	From       string `form:"from"`
	To         string `form:"to"`
	LastPeriod *int   `form:"lastPeriod" binding:"omitempty,min=1,max=86400"`
	Detailed   *bool  `form:"detailed"`
	DealID     string `form:"dealId"`
	Filter     string `form:"filter"`
}

func (q ActivityQuery) Query() upstream.Query {
	return upstream.Query{
		"from":       q.From,
		"to":         q.To,
		"lastPeriod": q.LastPeriod,
		"detailed":   q.Detailed,
		"dealId":     q.DealID,
		"filter":     q.Filter,
	}
}

type TransactionsQuery struct {
	From       string `form:"from"`
	To         string `form:"to"`
	LastPeriod *int   `form:"lastPeriod" binding:"omitempty,min=1"`
	Type       string `form:"type"`
}

func (q TransactionsQuery) Query() upstream.Query {
	return upstream.Query{"from": q.From, "to": q.To, "lastPeriod": q.LastPeriod, "type": q.Type}
}

package payments

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrUnknownPlan is returned for a paid event naming a plan we do not sell.
var ErrUnknownPlan = errors.New("unknown plan")

// Plan is a credit package sold for a fixed BRL price.
type Plan struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Credits int64           `json:"credits"`
	Price   decimal.Decimal `json:"price"`
}

var plans = []Plan{
	{ID: "basic", Name: "Basic", Credits: 50, Price: decimal.RequireFromString("9.90")},
	{ID: "pro", Name: "Pro", Credits: 200, Price: decimal.RequireFromString("29.90")},
	{ID: "business", Name: "Business", Credits: 500, Price: decimal.RequireFromString("59.90")},
	{ID: "enterprise", Name: "Enterprise", Credits: 2000, Price: decimal.RequireFromString("199.90")},
}

// Plans returns the catalogue in display order.
func Plans() []Plan {
	return append([]Plan(nil), plans...)
}

func PlanByID(id string) (Plan, error) {
	for _, p := range plans {
		if p.ID == id {
			return p, nil
		}
	}
	return Plan{}, fmt.Errorf("%w: %q", ErrUnknownPlan, id)
}

package config

import (
	"fmt"

	"fenrir/internal/common"
	"fenrir/internal/constraint"
)

// buildConstraint turns one config entry into a concrete constraint.Constraint
// value (spec §9: "tagged sum of constraint kinds", selected by entry.Type).
func buildConstraint(entry ConstraintConfig) (constraint.Constraint, error) {
	code := common.RejectCode(entry.ErrorCode)

	switch entry.Type {
	case "position_limit":
		max, err := intParam(entry.Parameters, "max")
		if err != nil {
			return nil, err
		}
		symmetric, _ := entry.Parameters["symmetric"].(bool)
		return constraint.PositionLimit{Max: max, Symmetric: symmetric, Code: code, Message: entry.ErrorMessage}, nil

	case "instrument_allowed":
		raw, _ := entry.Parameters["symbols"].([]any)
		whitelist := make(map[string]bool, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok {
				whitelist[s] = true
			}
		}
		return constraint.InstrumentAllowed{Whitelist: whitelist, Code: code, Message: entry.ErrorMessage}, nil

	case "order_rate":
		max, err := intParam(entry.Parameters, "max_per_second")
		if err != nil {
			return nil, err
		}
		return constraint.OrderRate{MaxPerSecond: int(max), Code: code, Message: entry.ErrorMessage}, nil

	case "order_type":
		raw, _ := entry.Parameters["allowed"].([]any)
		allowed := make(map[common.OrderType]bool, len(raw))
		for _, v := range raw {
			s, ok := v.(string)
			if !ok {
				continue
			}
			switch s {
			case "limit":
				allowed[common.LimitOrder] = true
			case "market":
				allowed[common.MarketOrder] = true
			case "quote":
				allowed[common.QuoteOrder] = true
			}
		}
		return constraint.OrderTypeAllowed{Allowed: allowed, Code: code, Message: entry.ErrorMessage}, nil

	case "price_range":
		pct, ok := entry.Parameters["max_pct_from_mid"].(float64)
		if !ok {
			return nil, fmt.Errorf("price_range requires max_pct_from_mid")
		}
		return constraint.PriceRange{MaxPctFromMid: pct, Code: code, Message: entry.ErrorMessage}, nil

	case "portfolio_limit":
		max, err := intParam(entry.Parameters, "max_total")
		if err != nil {
			return nil, err
		}
		return constraint.PortfolioLimit{MaxTotal: max, Code: code, Message: entry.ErrorMessage}, nil

	default:
		return nil, fmt.Errorf("unknown constraint type %q", entry.Type)
	}
}

func intParam(params map[string]any, key string) (int64, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("missing parameter %q", key)
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("parameter %q has unexpected type %T", key, v)
	}
}

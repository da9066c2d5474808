package common

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OptionType distinguishes calls, puts and the underlying itself.
type OptionType int

const (
	Underlying OptionType = iota
	Call
	Put
)

func (t OptionType) String() string {
	switch t {
	case Call:
		return "call"
	case Put:
		return "put"
	default:
		return "underlying"
	}
}

// ParseOptionType maps the config/wire string form onto an OptionType.
func ParseOptionType(s string) (OptionType, error) {
	switch s {
	case "call":
		return Call, nil
	case "put":
		return Put, nil
	case "underlying", "":
		return Underlying, nil
	default:
		return 0, fmt.Errorf("unknown option_type %q", s)
	}
}

// Instrument is immutable once registered. Identity is Symbol.
type Instrument struct {
	Symbol           string
	Strike           decimal.Decimal // zero value for underlyings
	Expiry           *time.Time      // nil for underlyings
	OptionType       OptionType
	UnderlyingSymbol string
}

// InstrumentRegistry looks instruments up by symbol. Registered once at
// startup; reads are concurrent and unsynchronized after registration
// completes, matching the "register then freeze" lifecycle in spec §3.
type InstrumentRegistry struct {
	bySymbol map[string]Instrument
}

func NewInstrumentRegistry() *InstrumentRegistry {
	return &InstrumentRegistry{bySymbol: make(map[string]Instrument)}
}

func (r *InstrumentRegistry) Register(inst Instrument) {
	r.bySymbol[inst.Symbol] = inst
}

func (r *InstrumentRegistry) Lookup(symbol string) (Instrument, bool) {
	inst, ok := r.bySymbol[symbol]
	return inst, ok
}

func (r *InstrumentRegistry) Symbols() []string {
	symbols := make([]string, 0, len(r.bySymbol))
	for s := range r.bySymbol {
		symbols = append(symbols, s)
	}
	return symbols
}

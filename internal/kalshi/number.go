package kalshi

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// Number is a lenient numeric field. It accepts JSON numbers and numeric
// strings; null, absent or malformed values decode to 0 instead of failing
// the whole page.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	*n = 0
	s := string(bytes.TrimSpace(b))
	if s == "" || s == "null" {
		return nil
	}
	if s[0] == '"' {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return nil
		}
		s = unquoted
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	*n = Number(f)
	return nil
}

// Float returns n as a float64.
func (n Number) Float() float64 { return float64(n) }

// Dollars is a fixed-point dollar amount such as "0.4200". Valid is false
// when the field was absent or could not be parsed.
type Dollars struct {
	Value decimal.Decimal
	Valid bool
}

func (d *Dollars) UnmarshalJSON(b []byte) error {
	*d = Dollars{}
	s := string(bytes.TrimSpace(b))
	if s == "" || s == "null" {
		return nil
	}
	if s[0] == '"' {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return nil
		}
		s = unquoted
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	*d = Dollars{Value: v, Valid: true}
	return nil
}

func (d Dollars) MarshalJSON() ([]byte, error) {
	if !d.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(d.Value.String())
}

// NewDollars parses s, returning an invalid value on error.
func NewDollars(s string) Dollars {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return Dollars{}
	}
	return Dollars{Value: v, Valid: true}
}

package types

import (
	"fmt"
	"math/big"
	"strings"
)

// Coin is an amount of a single native denomination attached to a request.
type Coin struct {
	Denom  string   `json:"denom"`
	Amount *big.Int `json:"amount"`
}

// NewCoin builds a coin with a defensive copy of the amount.
func NewCoin(denom string, amount *big.Int) Coin {
	amt := big.NewInt(0)
	if amount != nil {
		amt = new(big.Int).Set(amount)
	}
	return Coin{Denom: strings.TrimSpace(denom), Amount: amt}
}

// Validate checks the coin carries a denomination and a non-negative amount.
func (c Coin) Validate() error {
	if strings.TrimSpace(c.Denom) == "" {
		return fmt.Errorf("types: coin denom required")
	}
	if c.Amount == nil || c.Amount.Sign() < 0 {
		return fmt.Errorf("types: coin amount must be non-negative")
	}
	return nil
}

// FindCoin returns the first coin in funds matching denom, if any.
func FindCoin(funds []Coin, denom string) (Coin, bool) {
	for _, c := range funds {
		if c.Denom == denom {
			return c, true
		}
	}
	return Coin{}, false
}

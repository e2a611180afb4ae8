package calculator

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	KeyDecimal   = "."
	KeyBackspace = "backspace"

	maxBufferLen = 12
	maxFraction  = 2
)

// keypad is the amount display. It always holds a parseable prefix such as
// "0", "12." or "12.5".
type keypad struct {
	buf string
}

func newKeypad() keypad {
	return keypad{buf: "0"}
}

func (k *keypad) press(key string) bool {
	switch {
	case len(key) == 1 && key[0] >= '0' && key[0] <= '9':
		return k.digit(key)
	case key == KeyDecimal:
		if strings.Contains(k.buf, ".") || len(k.buf) >= maxBufferLen {
			return false
		}
		k.buf += "."
		return true
	case key == KeyBackspace:
		if len(k.buf) > 1 {
			k.buf = k.buf[:len(k.buf)-1]
		} else {
			k.buf = "0"
		}
		return true
	default:
		return false
	}
}

func (k *keypad) digit(d string) bool {
	if k.buf == "0" {
		k.buf = d
		return true
	}
	if len(k.buf) >= maxBufferLen {
		return false
	}
	if i := strings.IndexByte(k.buf, '.'); i >= 0 && len(k.buf)-i-1 >= maxFraction {
		return false
	}
	k.buf += d
	return true
}

func (k *keypad) reset() {
	k.buf = "0"
}

// amount parses the display. ok is false for anything that is not a
// positive number.
func (k *keypad) amount() (decimal.Decimal, bool) {
	return parseAmount(k.buf)
}

func parseAmount(raw string) (decimal.Decimal, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Decimal{}, false
	}
	v, err := decimal.NewFromString(raw)
	if err != nil || !v.IsPositive() {
		return decimal.Decimal{}, false
	}
	return v, true
}

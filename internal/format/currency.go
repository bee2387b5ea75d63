// Package format renders query results for chat: Indian currency amounts,
// short answer sentences and markdown tables.
package format

import (
	"math"
	"strconv"
	"strings"
)

const (
	lakh  = 1e5
	crore = 1e7
)

// FormatINR renders amount in rupees using the largest Indian unit whose
// scaled value is at least one: "₹26.44 Cr", "₹55 L", and grouped digits
// below a lakh ("₹85,000"). Scaled values round half-up to two decimals and
// drop trailing zeros. NaN and infinities render as "N/A".
func FormatINR(amount float64) string {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return "N/A"
	}
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}

	switch {
	case amount >= crore:
		return sign + "₹" + trimZeros(roundHalfUp(amount/crore, 2)) + " Cr"
	case amount >= lakh:
		v := trimZeros(roundHalfUp(amount/lakh, 2))
		if v == "100" {
			return sign + "₹1 Cr"
		}
		return sign + "₹" + v + " L"
	}

	whole := roundHalfUp(amount, 0)
	switch whole {
	case "100000":
		return sign + "₹1 L"
	case "0":
		sign = ""
	}
	return sign + "₹" + GroupIndian(whole)
}

// GroupIndian inserts separators into a string of digits using the Indian
// convention: the last three digits, then groups of two ("1,23,45,678").
// A fractional part, if any, is kept as is.
func GroupIndian(digits string) string {
	intPart, frac, hasFrac := strings.Cut(digits, ".")
	neg := strings.HasPrefix(intPart, "-")
	intPart = strings.TrimPrefix(intPart, "-")

	if len(intPart) > 3 {
		head, tail := intPart[:len(intPart)-3], intPart[len(intPart)-3:]
		var groups []string
		for len(head) > 2 {
			groups = append([]string{head[len(head)-2:]}, groups...)
			head = head[:len(head)-2]
		}
		if head != "" {
			groups = append([]string{head}, groups...)
		}
		intPart = strings.Join(append(groups, tail), ",")
	}

	if neg {
		intPart = "-" + intPart
	}
	if hasFrac {
		return intPart + "." + frac
	}
	return intPart
}

// roundHalfUp rounds a non-negative x to places decimals. It works on the
// shortest decimal form of x, so 26.445 rounds to 26.45 even though its
// binary value is slightly below.
func roundHalfUp(x float64, places int) string {
	s := strconv.FormatFloat(x, 'f', -1, 64)
	intPart, frac, _ := strings.Cut(s, ".")
	if len(frac) <= places {
		return joinDecimal(intPart, frac+strings.Repeat("0", places-len(frac)))
	}

	digits := []byte(intPart + frac[:places])
	if frac[places] >= '5' {
		i := len(digits) - 1
		for ; i >= 0; i-- {
			if digits[i] == '9' {
				digits[i] = '0'
				continue
			}
			digits[i]++
			break
		}
		if i < 0 {
			digits = append([]byte{'1'}, digits...)
		}
	}
	n := len(digits) - places
	return joinDecimal(string(digits[:n]), string(digits[n:]))
}

func joinDecimal(intPart, frac string) string {
	if frac == "" {
		return intPart
	}
	return intPart + "." + frac
}

func trimZeros(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

package service

import (
	"strconv"
	"strings"
)

// NextSaleCode returns prefix followed by one more than the highest numeric
// suffix among codes. Codes that are not prefix+digits are ignored.
func NextSaleCode(prefix string, codes []string) string {
	highest := 0
	for _, code := range codes {
		n, ok := parseSaleCode(prefix, code)
		if ok && n > highest {
			highest = n
		}
	}
	return prefix + strconv.Itoa(highest+1)
}

func parseSaleCode(prefix, code string) (int, bool) {
	suffix, ok := strings.CutPrefix(code, prefix)
	if !ok || suffix == "" {
		return 0, false
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, false
	}
	return n, true
}

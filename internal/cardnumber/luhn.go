package cardnumber

import "strings"

// luhnSum computes the Luhn digit sum walking from the rightmost digit.
// double selects whether the rightmost digit is doubled, which differs
// between full validation (false) and check-digit computation (true).
func luhnSum(digits string, double bool) int {
	sum := 0
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum
}

// LuhnValid reports whether a digit string passes the Luhn checksum.
func LuhnValid(digits string) bool {
	return luhnSum(digits, false)%10 == 0
}

// CheckDigit returns the Luhn check digit to append to partial.
func CheckDigit(partial string) int {
	return (10 - luhnSum(partial, true)%10) % 10
}

// IsValid reports whether number is a plausible PAN: 13-19 characters,
// all digits (spaces ignored), passing the Luhn checksum.
func IsValid(number string) bool {
	clean := strings.ReplaceAll(number, " ", "")
	if len(clean) < 13 || len(clean) > 19 {
		return false
	}
	for i := 0; i < len(clean); i++ {
		if clean[i] < '0' || clean[i] > '9' {
			return false
		}
	}
	return LuhnValid(clean)
}

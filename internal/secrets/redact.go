package secrets

const redactMask = "****"

// Redact masks a secret value for display. Values longer than four
// characters keep two leading characters; the mask is fixed-width so the
// length of the value is not revealed.
func Redact(value string) string {
	r := []rune(value)
	switch {
	case len(r) == 0:
		return ""
	case len(r) <= 4:
		return redactMask
	default:
		return string(r[:2]) + redactMask
	}
}

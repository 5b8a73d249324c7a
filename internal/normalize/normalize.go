// Package normalize converts raw scalar webhook values (phone, email, name,
// monetary amount) into canonical form. Every function is total: invalid
// input degrades to the zero value, never an error.
package normalize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gexcorp/capi-bridge/internal/payload"
)

// Phone canonicalizes a phone number to digits with the Brazilian country
// code. Returns "" when fewer than 10 digits remain after cleanup.
func Phone(raw any) string {
	s := payload.Stringify(raw)
	if s == "" {
		return ""
	}

	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := strings.TrimLeft(b.String(), "0")

	if len(digits) == 10 || len(digits) == 11 {
		if !strings.HasPrefix(digits, "55") {
			digits = "55" + digits
		}
	}
	if len(digits) < 10 {
		return ""
	}
	return digits
}

// Email trims, lowercases and validates an email address.
// Returns "" unless it contains "@" and the domain part contains ".".
func Email(raw any) string {
	s := payload.Stringify(raw)
	if s == "" {
		return ""
	}
	s = strings.ToLower(strings.TrimSpace(s))

	parts := strings.Split(s, "@")
	if len(parts) < 2 || !strings.Contains(parts[1], ".") {
		return ""
	}
	return strings.ReplaceAll(s, " ", "")
}

// SplitName splits a full name into (first, rest). A single token yields
// (token, ""); blank input yields ("", "").
func SplitName(full string) (string, string) {
	fields := strings.Fields(strings.TrimSpace(full))
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}

// Amount parses a monetary value from numeric or string input, rounded to
// two decimals. String input tolerates currency symbols, Brazilian comma
// decimals and thousands separators ("R$ 1.234,56" → 1234.56).
// Returns (0, false) when nothing parseable remains.
func Amount(raw any) (float64, bool) {
	switch v := raw.(type) {
	case nil:
		return 0, false
	case float64:
		return round2(v), true
	case int:
		return round2(float64(v)), true
	case int64:
		return round2(float64(v)), true
	case string:
		return amountFromString(v)
	default:
		return amountFromString(payload.Stringify(raw))
	}
}

func amountFromString(s string) (float64, bool) {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' {
			b.WriteRune(r)
		}
	}
	clean := strings.ReplaceAll(b.String(), ",", ".")

	// Extra dots are thousands separators: keep only the last as decimal.
	if strings.Count(clean, ".") > 1 {
		parts := strings.Split(clean, ".")
		clean = strings.Join(parts[:len(parts)-1], "") + "." + parts[len(parts)-1]
	}

	v, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, false
	}
	return round2(v), true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// uniqueKeyFields is the priority order probed for an existing identifier.
var uniqueKeyFields = []string{
	"unique_key", "id", "order_id", "purchase_id", "transaction_id", "event_id", "lead_id",
}

// UniqueKey derives a stable "{PLATFORM}-{id}" key for a payload, probing a
// fixed priority list of identifier fields (including the nested Hotmart and
// Kiwify locations). When no identifier exists it falls back to a timestamp
// plus the email local part, so the key is still unique per ingestion.
func UniqueKey(p payload.Payload, platform string) string {
	prefix := strings.ToUpper(platform)

	for _, f := range uniqueKeyFields {
		if v := p.Get(f); payload.Truthy(v) {
			return prefix + "-" + payload.Stringify(v)
		}
	}
	if v, ok := p.Path("data", "purchase", "order", "order_id"); ok && payload.Truthy(v) {
		return prefix + "-" + payload.Stringify(v)
	}
	if v, ok := p.Path("data", "id"); ok && payload.Truthy(v) {
		return prefix + "-" + payload.Stringify(v)
	}
	if v, ok := p.Path("order", "id"); ok && payload.Truthy(v) {
		return prefix + "-" + payload.Stringify(v)
	}

	now := time.Now()
	ts := now.Format("20060102150405") + fmt.Sprintf("%06d", now.Nanosecond()/1000)

	emailPart := "UNKNOWN"
	if email := p.String("email", "client_email"); strings.Contains(email, "@") {
		local := strings.SplitN(email, "@", 2)[0]
		if len(local) > 10 {
			local = local[:10]
		}
		if local != "" {
			emailPart = local
		}
	}
	return prefix + "-" + ts + "-" + emailPart
}

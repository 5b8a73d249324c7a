// Package pipeline turns raw webhook payloads into canonical records:
// platform detection, event-type classification and per-platform
// transformation with a generic fallback.
package pipeline

import (
	"strings"

	"github.com/gexcorp/capi-bridge/internal/payload"
)

// Platform identifies the upstream system a payload came from.
type Platform string

const (
	PlatformHotmart   Platform = "hotmart"
	PlatformKiwify    Platform = "kiwify"
	PlatformBraip     Platform = "braip"
	PlatformEduzz     Platform = "eduzz"
	PlatformTray      Platform = "tray"
	PlatformCartPanda Platform = "cartpanda"
	PlatformUnknown   Platform = "unknown"
)

// DetectPlatform fingerprints a payload's shape against the known upstream
// platforms. Rules run in a fixed order and the first hit wins; a payload
// declaring its own platform field short-circuits detection (matched
// lowercased; empty and "unknown" count as undeclared).
// "unknown" is a valid result, not an error.
func DetectPlatform(p payload.Payload) Platform {
	declared := strings.ToLower(p.String("platform"))
	if declared != "" && declared != string(PlatformUnknown) {
		return Platform(declared)
	}

	// Hotmart nests everything under data.purchase / data.subscription.
	if d := p.Dict("data"); d != nil {
		if d.Has("purchase") || d.Has("subscription") {
			return PlatformHotmart
		}
	}

	// Kiwify ships sibling order + customer objects.
	if p.Dict("order") != nil && p.Dict("customer") != nil {
		return PlatformKiwify
	}

	if p.Has("transaction") || p.Contains("braip") {
		return PlatformBraip
	}

	if p.Contains("eduzz") || (p.Has("product") && p.Has("affiliate")) {
		return PlatformEduzz
	}

	if p.Contains("tray") || p.Contains("loja") {
		return PlatformTray
	}

	// CartPanda is Shopify-shaped: financial_status + line_items.
	if p.Contains("cartpanda") {
		return PlatformCartPanda
	}
	if p.Has("financial_status") && p.Has("line_items") {
		return PlatformCartPanda
	}
	if p.Has("line_items") && p.Has("billing_address") {
		return PlatformCartPanda
	}

	return PlatformUnknown
}

package ratelimit

import "inkpost/internal/models"

// Purposes of the named budgets. Each purpose is an independent namespace.
const (
	PurposeComment       = "comment"
	PurposeView          = "view"
	PurposeMediaGet      = "media:get"
	PurposeMediaHead     = "media:head"
	PurposeAPIKeyAttempt = "api-key:attempt"
	PurposeAPIKeyInvalid = "api-key:invalid"
	PurposeAPIKeyUsage   = "api-key:usage"
)

// Policies is the set of named budgets used across the service.
type Policies struct {
	Comment       Policy
	View          Policy
	MediaGet      Policy
	MediaHead     Policy
	APIKeyAttempt Policy
	APIKeyInvalid Policy
	APIKeyUsage   Policy
}

// PoliciesFromConfig converts configured policies.
func PoliciesFromConfig(rl models.RateLimitConfig, keys models.APIKeyLimits) Policies {
	return Policies{
		Comment:       fromModel(rl.Comment),
		View:          fromModel(rl.View),
		MediaGet:      fromModel(rl.MediaGet),
		MediaHead:     fromModel(rl.MediaHead),
		APIKeyAttempt: fromModel(keys.Attempt),
		APIKeyInvalid: fromModel(keys.Invalid),
		APIKeyUsage:   fromModel(keys.Usage),
	}
}

// DefaultPolicies returns the built-in budgets.
func DefaultPolicies() Policies {
	cfg := models.NewDefaultConfig()
	return PoliciesFromConfig(cfg.RateLimit, cfg.Security.APIKeyLimits)
}

func fromModel(p models.RateLimitPolicy) Policy {
	return Policy{Window: p.Window, Max: p.Max}
}

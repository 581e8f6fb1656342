package auth

import "fmt"

// Identity is the provider-agnostic shape produced from a federated
// identity payload. It is transient: built per login attempt and never
// persisted directly.
type Identity struct {
	Provider   string
	ProviderID string
	Email      string
	Name       string

	// Raw keeps the unmapped attributes for pass-through providers.
	Raw map[string]any
}

// DisplayKey resolves the attribute used as the identity's display key:
// email when present, else the provider-scoped id, else the literal
// string "name". The precedence is fixed, not a fallback search.
func (id Identity) DisplayKey() string {
	if id.Email != "" {
		return id.Email
	}
	if id.ProviderID != "" {
		return id.ProviderID
	}
	return "name"
}

// Normalize maps a provider-specific attribute payload to an Identity.
// Each known provider has one mapping strategy; unrecognized providers
// fall through to a pass-through that copies attributes verbatim with no
// canonical email or id guaranteed.
func Normalize(provider string, attrs map[string]any) Identity {
	switch provider {
	case "google":
		// Google delivers flat attributes.
		return Identity{
			Provider:   "google",
			ProviderID: stringAttr(attrs, "sub"),
			Email:      stringAttr(attrs, "email"),
			Name:       stringAttr(attrs, "name"),
		}
	case "naver":
		// Naver nests everything under "response". A missing wrapper
		// yields an identity with empty email/id/name; the caller must
		// handle that, not the normalizer.
		resp, ok := attrs["response"].(map[string]any)
		if !ok {
			return Identity{Provider: "naver"}
		}
		return Identity{
			Provider:   "naver",
			ProviderID: stringAttr(resp, "id"),
			Email:      stringAttr(resp, "email"),
			Name:       stringAttr(resp, "name"),
		}
	default:
		raw := make(map[string]any, len(attrs))
		for k, v := range attrs {
			raw[k] = v
		}
		return Identity{
			Provider:   provider,
			ProviderID: stringAttr(attrs, "providerId"),
			Email:      stringAttr(attrs, "email"),
			Name:       stringAttr(attrs, "name"),
			Raw:        raw,
		}
	}
}

func stringAttr(attrs map[string]any, key string) string {
	v, ok := attrs[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

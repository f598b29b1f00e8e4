package llm

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/satriahrh/omnichat/server/domain"
)

// classificationRule maps a failure to a kind when any pattern occurs in the
// lowercased error text or the API status code is one of codes
type classificationRule struct {
	kind     domain.ErrorKind
	patterns []string
	codes    []int
}

// classificationRules is evaluated top to bottom; the first matching rule wins.
// Anything unmatched is UNKNOWN.
var classificationRules = []classificationRule{
	{
		kind: domain.KindAuth,
		patterns: []string{
			"api_key_invalid",
			"api key not valid",
			"invalid api key",
			"api key expired",
			"unauthorized",
			"unauthenticated",
			"forbidden",
			"401",
			"403",
		},
		codes: []int{401},
	},
	{
		kind: domain.KindNotEnabled,
		patterns: []string{
			"service_disabled",
			"has not been used in project",
			"not enabled",
			"disabled",
		},
	},
	{
		// a 403 that does not name a disabled service is a rejected key
		kind:  domain.KindAuth,
		codes: []int{403},
	},
	{
		kind: domain.KindQuota,
		patterns: []string{
			"quota",
			"resource_exhausted",
			"rate limit",
			"too many requests",
		},
		codes: []int{429},
	},
}

// Classify buckets err into AUTH, NOT_ENABLED, QUOTA or UNKNOWN
func Classify(err error) domain.ErrorKind {
	if err == nil {
		return domain.KindUnknown
	}
	if errors.Is(err, domain.ErrNoAPIKey) {
		return domain.KindAuth
	}

	text, code := describeError(err)
	for _, rule := range classificationRules {
		if rule.matches(text, code) {
			return rule.kind
		}
	}
	return domain.KindUnknown
}

func (r classificationRule) matches(text string, code int) bool {
	for _, p := range r.patterns {
		if strings.Contains(text, p) {
			return true
		}
	}
	for _, c := range r.codes {
		if code == c {
			return true
		}
	}
	return false
}

// describeError returns the lowercased text to match against and the API status code, if any.
// For API errors only the message, status and details are used so that the
// numeric code is matched through codes rather than through text patterns.
func describeError(err error) (string, int) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		text := apiErr.Message + " " + apiErr.Status
		if len(apiErr.Details) > 0 {
			text += " " + fmt.Sprint(apiErr.Details)
		}
		return strings.ToLower(text), apiErr.Code
	}
	return strings.ToLower(err.Error()), 0
}

// gatewayError classifies err as a failure of op
func gatewayError(op string, err error) *domain.GatewayError {
	var existing *domain.GatewayError
	if errors.As(err, &existing) {
		return existing
	}
	return &domain.GatewayError{Op: op, Kind: Classify(err), Err: err}
}

// parseError marks a malformed model response
func parseError(op string, err error) *domain.GatewayError {
	return &domain.GatewayError{Op: op, Kind: domain.KindParse, Err: err}
}

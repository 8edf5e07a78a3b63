package models

import (
	"fmt"
	"net/netip"
	"net/url"
	"regexp"
	"strings"
)

var (
	// MITRE ATT&CK technique IDs: T1486, T1059.001.
	techniquePattern = regexp.MustCompile(`^T\d{4}(\.\d{3})?$`)
	cvePattern       = regexp.MustCompile(`^CVE-\d{4}-\d{4,}$`)
	// DNS labels: alphanumeric with inner hyphens, at least two labels.
	domainPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]*[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9-]*[a-z0-9])?)+$`)
	hexPattern    = regexp.MustCompile(`^[a-f0-9]+$`)

	hxxpPattern = regexp.MustCompile(`(?i)\bhxxps?\b`)
	// Bracket defanging as it appears in published reporting.
	refanger = strings.NewReplacer(
		"[.]", ".", "(.)", ".", "{.}", ".",
		"[:]", ":", "[@]", "@", "[at]", "@",
	)
)

// Refang reverses the defanging conventions threat reports use so that
// indicators are stored in their live form: hxxp -> http, bracketed dots and
// separators -> the real character.
func Refang(value string) string {
	v := refanger.Replace(value)
	return hxxpPattern.ReplaceAllStringFunc(v, func(m string) string {
		if strings.HasSuffix(strings.ToLower(m), "s") {
			return "https"
		}
		return "http"
	})
}

// NormalizeIndicator validates and canonicalizes an indicator value for the
// given indicator type. The returned string is the storage form: refanged,
// trimmed, case-folded where the type is case-insensitive. Values that fail
// validation for their type are rejected.
func NormalizeIndicator(indicatorType, value string) (string, error) {
	v := Refang(strings.TrimSpace(value))
	if v == "" {
		return "", fmt.Errorf("empty indicator value")
	}

	switch indicatorType {
	case IndicatorTypeIP:
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return "", fmt.Errorf("invalid ip %q: %w", value, err)
		}
		return addr.String(), nil

	case IndicatorTypeDomain:
		v = strings.ToLower(strings.TrimSuffix(v, "."))
		if !domainPattern.MatchString(v) {
			return "", fmt.Errorf("invalid domain %q", value)
		}
		return v, nil

	case IndicatorTypeURL:
		u, err := url.Parse(v)
		if err != nil {
			return "", fmt.Errorf("invalid url %q: %w", value, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "", fmt.Errorf("invalid url %q", value)
		}
		u.Host = strings.ToLower(u.Host)
		return u.String(), nil

	case IndicatorTypeHash:
		v = strings.ToLower(v)
		switch len(v) {
		case 32, 40, 64, 128: // md5, sha1, sha256, sha512
		default:
			return "", fmt.Errorf("invalid hash length %d", len(v))
		}
		if !hexPattern.MatchString(v) {
			return "", fmt.Errorf("invalid hash %q", value)
		}
		return v, nil

	case IndicatorTypeEmail:
		v = strings.ToLower(v)
		local, domain, ok := strings.Cut(v, "@")
		if !ok || local == "" || strings.Contains(domain, "@") || !domainPattern.MatchString(domain) {
			return "", fmt.Errorf("invalid email %q", value)
		}
		return v, nil

	case IndicatorTypeCVE:
		v = strings.ToUpper(v)
		if !cvePattern.MatchString(v) {
			return "", fmt.Errorf("invalid cve %q", value)
		}
		return v, nil

	default:
		return "", fmt.Errorf("unknown indicator type %q", indicatorType)
	}
}

// NormalizeTechniqueID validates and upper-cases an ATT&CK technique ID.
func NormalizeTechniqueID(value string) (string, error) {
	v := strings.ToUpper(strings.TrimSpace(value))
	if !techniquePattern.MatchString(v) {
		return "", fmt.Errorf("invalid technique id %q", value)
	}
	return v, nil
}

// NormalizeActorName trims and collapses internal whitespace in a threat
// actor name. Case is preserved; actor matching is case-insensitive.
func NormalizeActorName(value string) (string, error) {
	v := strings.Join(strings.Fields(value), " ")
	if v == "" {
		return "", fmt.Errorf("empty actor name")
	}
	return v, nil
}

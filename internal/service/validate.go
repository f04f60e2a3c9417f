package service

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var aliasPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,64}$`)

// Path segments of the HTTP API that a short code would collide with, either
// at the root or under /links/.
var reservedAliases = map[string]bool{
	"links":   true,
	"metrics": true,
	"healthz": true,
	"search":  true,
}

// ValidateOriginalURL accepts absolute http(s) URLs with a host.
func ValidateOriginalURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return newError(KindInvalidInput, "original url is not a valid url", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return newError(KindInvalidInput, "original url must start with http:// or https:// and contain a host", nil)
	}
	return nil
}

// ValidateAlias checks that a custom alias is usable as a path segment.
func ValidateAlias(alias string) error {
	if !aliasPattern.MatchString(alias) {
		return newError(KindInvalidInput,
			fmt.Sprintf("alias %q must be 3-64 characters of letters, digits, '-' or '_'", alias), nil)
	}
	if reservedAliases[strings.ToLower(alias)] {
		return newError(KindInvalidInput, fmt.Sprintf("alias %q is reserved", alias), nil)
	}
	return nil
}

func ShortURL(baseURL, code string) string {
	return strings.TrimRight(baseURL, "/") + "/" + code
}

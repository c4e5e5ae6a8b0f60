// resolver.go resolves the --source identifier to a proxy wallet address.
//
// A 42-character 0x address passes through untouched. Anything else is
// treated as a pseudonym: the optional leading @ is stripped and the Gamma
// profile directory is searched once. An exact case-insensitive pseudonym
// match wins; otherwise the first profile carrying a proxyWallet is used.
// Resolution happens exactly once at startup and a failure is fatal.
package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// profile is one entry of the Gamma /public-search profiles array.
type profile struct {
	Pseudonym   string `json:"pseudonym"`
	ProxyWallet string `json:"proxyWallet"`
}

type searchResponse struct {
	Profiles []profile `json:"profiles"`
}

// ResolveSource maps a @handle/pseudonym or direct address to the proxy
// wallet address the activity feed is keyed by.
func (c *Client) ResolveSource(ctx context.Context, source string) (string, error) {
	s := strings.TrimSpace(source)
	if strings.HasPrefix(s, "0x") && len(s) == 42 {
		if !common.IsHexAddress(s) {
			return "", fmt.Errorf("resolve source: %q is not a valid address", s)
		}
		return s, nil
	}

	handle := strings.TrimPrefix(s, "@")

	var result searchResponse
	resp, err := c.gamma.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":               handle,
			"search_profiles": "true",
			"limit_per_type":  "20",
		}).
		SetResult(&result).
		Get("/public-search")
	if err != nil {
		return "", fmt.Errorf("resolve source: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("resolve source: status %d: %s", resp.StatusCode(), resp.String())
	}

	// Exact pseudonym match first.
	for _, p := range result.Profiles {
		if strings.EqualFold(p.Pseudonym, handle) && p.ProxyWallet != "" {
			return p.ProxyWallet, nil
		}
	}
	// Fall back to the first profile with a proxy wallet.
	for _, p := range result.Profiles {
		if p.ProxyWallet != "" {
			return p.ProxyWallet, nil
		}
	}

	return "", fmt.Errorf("resolve source: no profile found for %q", source)
}

package httputil

import "fmt"

// HTTPClientConfig holds the optional authentication for an outbound
// webhook or scrape target. It arrives as part of the JSON route and
// target definitions.
type HTTPClientConfig struct {
	BasicAuth   *BasicAuth `json:"basicAuth,omitempty"`
	BearerToken string     `json:"bearerToken,omitempty"`
}

// Validate rejects configs that carry more than one credential kind.
func (c *HTTPClientConfig) Validate() error {
	if c.BasicAuth != nil && len(c.BearerToken) > 0 {
		return fmt.Errorf("at most one of basic_auth & bearer_token must be configured")
	}
	return nil
}

type BasicAuth struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
}

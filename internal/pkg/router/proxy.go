package router

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// ApplyProxyConfig makes c.IP() honour header (X-Forwarded-For,
// CF-Connecting-IP, ...) only on connections coming from one of the trusted
// proxies (addresses or CIDR ranges). Without trusted proxies the header is
// ignored and the socket address is used.
func ApplyProxyConfig(cfg *fiber.Config, header string, trusted []string) {
	var proxies []string
	for _, p := range trusted {
		if p = strings.TrimSpace(p); p != "" {
			proxies = append(proxies, p)
		}
	}
	header = strings.TrimSpace(header)
	if len(proxies) == 0 || header == "" {
		cfg.ProxyHeader = ""
		return
	}
	cfg.ProxyHeader = header
	cfg.EnableTrustedProxyCheck = true
	cfg.TrustedProxies = proxies
	cfg.EnableIPValidation = true
}

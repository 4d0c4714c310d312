package gateway

import (
	"errors"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// NewProxy builds the reverse proxy that forwards allowed requests to the upstream
// service cluster.
func NewProxy(upstream string) (gin.HandlerFunc, error) {
	upstream = strings.TrimSpace(upstream)
	if upstream == "" {
		return nil, errors.New("gateway: upstream address is required")
	}

	target, err := url.Parse(upstream)
	if err != nil {
		return nil, err
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, errors.New("gateway: upstream must be an absolute URL")
	}

	proxy := httputil.NewSingleHostReverseProxy(target)

	return func(c *gin.Context) {
		proxy.ServeHTTP(c.Writer, c.Request)
	}, nil
}

package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

var upstreamCORSHeaders = []string{
	"Access-Control-Allow-Origin",
	"Access-Control-Allow-Methods",
	"Access-Control-Allow-Headers",
	"Access-Control-Allow-Credentials",
	"Access-Control-Expose-Headers",
	"Access-Control-Max-Age",
}

// newReverseProxy forwards requests unchanged to the TableCRM host
func (s *Server) newReverseProxy(target string) (*httputil.ReverseProxy, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy target %q: %w", target, err)
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(u)
			r.Out.Host = u.Host
			r.Out.Header.Set("Accept", "application/json")
			s.logger.Debugf("Proxying: %s %s -> %s", r.In.Method, r.In.URL.RequestURI(), r.Out.URL.String())
		},
		ModifyResponse: func(resp *http.Response) error {
			// CORS headers come from the cors middleware only
			for _, h := range upstreamCORSHeaders {
				resp.Header.Del(h)
			}
			s.logger.Debugf("Proxy response: %d from %s (%s)", resp.StatusCode, resp.Request.URL.Path, resp.Header.Get("Content-Type"))
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.logger.Errorf("Proxy error: %v", err)
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, "Proxy error")
		},
	}
	if s.opts.ProxyHTTPClient != nil {
		proxy.Transport = s.opts.ProxyHTTPClient.Transport
	}
	return proxy, nil
}

// serverlessProxy forwards /proxy?path=/x&... to the TableCRM API and reflects status and JSON body
func (s *Server) serverlessProxy(c *gin.Context) {
	setCORSHeaders(c.Writer.Header())

	query := c.Request.URL.Query()
	path := query.Get("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Path is required"})
		return
	}
	query.Del("path")

	target := s.opts.APIURL + path
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}

	var body io.Reader
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			s.proxyFailure(c, err)
			return
		}
		if len(bytes.TrimSpace(raw)) > 0 {
			body = bytes.NewReader(raw)
		}
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, target, body)
	if err != nil {
		s.proxyFailure(c, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if auth := c.GetHeader("Authorization"); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := s.proxyClient().Do(req)
	if err != nil {
		s.proxyFailure(c, err)
		return
	}
	defer resp.Body.Close()

	var data interface{}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		s.proxyFailure(c, fmt.Errorf("decode %s response: %w", strings.SplitN(path, "?", 2)[0], err))
		return
	}
	c.JSON(resp.StatusCode, data)
}

func (s *Server) proxyFailure(c *gin.Context, err error) {
	s.logger.Errorf("Proxy error: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Proxy error", "details": err.Error()})
}

func (s *Server) proxyClient() *http.Client {
	if s.opts.ProxyHTTPClient != nil {
		return s.opts.ProxyHTTPClient
	}
	return http.DefaultClient
}

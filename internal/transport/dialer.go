package transport

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/proxy"
)

const defaultPort = "80"

// Dialer opens the one connection each request uses.
type Dialer struct {
	// Network is "tcp", "tcp4" or "tcp6". Empty means "tcp".
	Network string
	// StaticHosts maps host names to addresses, like /etc/hosts. The port of
	// the request's host is kept.
	StaticHosts map[string]string

	forward net.Dialer
}

// route is how a request reaches its host once the connection is up.
type route struct {
	conn net.Conn
	// absolute selects the absolute-form request target (HTTP proxy).
	absolute bool
	// extra holds additional header lines, e.g. Proxy-Authorization.
	extra []string
}

func (d *Dialer) network() string {
	if d.Network == "" {
		return "tcp"
	}
	return d.Network
}

// resolve applies StaticHosts and the default port to host[:port].
func (d *Dialer) resolve(hostport string) string {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = hostport, defaultPort
	}
	if mapped, ok := d.StaticHosts[host]; ok {
		host = mapped
	}
	return net.JoinHostPort(host, port)
}

// Dial connects to host directly or through proxyAddr. Accepted proxy
// forms are "host:port", "http://[user:pass@]host:port" and
// "socks5://[user:pass@]host:port".
func (d *Dialer) Dial(ctx context.Context, host, proxyAddr string) (route, error) {
	if proxyAddr == "" {
		conn, err := d.forward.DialContext(ctx, d.network(), d.resolve(host))
		return route{conn: conn}, err
	}

	if !strings.Contains(proxyAddr, "://") {
		proxyAddr = "http://" + proxyAddr
	}
	proxyURL, err := url.Parse(proxyAddr)
	if err != nil {
		return route{}, fmt.Errorf("parsing proxy address: %w", err)
	}

	switch proxyURL.Scheme {
	case "http":
		conn, err := d.forward.DialContext(ctx, d.network(), d.resolve(proxyURL.Host))
		if err != nil {
			return route{}, err
		}
		r := route{conn: conn, absolute: true}
		if proxyURL.User != nil {
			r.extra = append(r.extra, "Proxy-Authorization: "+basicAuth(proxyURL.User))
		}
		return r, nil
	case "socks5", "socks5h":
		var auth *proxy.Auth
		if proxyURL.User != nil {
			pass, _ := proxyURL.User.Password()
			auth = &proxy.Auth{User: proxyURL.User.Username(), Password: pass}
		}
		socks, err := proxy.SOCKS5(d.network(), d.resolve(proxyURL.Host), auth, &d.forward)
		if err != nil {
			return route{}, err
		}
		cd, ok := socks.(proxy.ContextDialer)
		if !ok {
			return route{}, fmt.Errorf("socks5 dialer does not support contexts")
		}
		conn, err := cd.DialContext(ctx, d.network(), d.resolve(host))
		return route{conn: conn}, err
	default:
		return route{}, fmt.Errorf("unsupported proxy scheme: %s", proxyURL.Scheme)
	}
}

// basicAuth renders the decoded userinfo as a Basic credential.
func basicAuth(u *url.Userinfo) string {
	pass, _ := u.Password()
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(u.Username()+":"+pass))
}

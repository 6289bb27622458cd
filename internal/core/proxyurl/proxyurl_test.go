package proxyurl

import (
	"errors"
	"testing"

	"urproxy/internal/shared/types"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want types.ProxyConfig
	}{
		{"https default port", "https://example.com", types.ProxyConfig{Scheme: "https", Host: "example.com", Port: 443}},
		{"socks5 default port", "socks5://example.com", types.ProxyConfig{Scheme: "socks5", Host: "example.com", Port: 1080}},
		{"http default port", "http://example.com", types.ProxyConfig{Scheme: "http", Host: "example.com", Port: 1080}},
		{"explicit port", "socks4://10.0.0.1:9050", types.ProxyConfig{Scheme: "socks4", Host: "10.0.0.1", Port: 9050}},
		{"token subdomain", "https://tok.proxy.example:8443", types.ProxyConfig{Scheme: "https", Host: "tok.proxy.example", Port: 8443}},
		{"credentials decoded", "socks5://us%40er:p%3Ass@h:1", types.ProxyConfig{Scheme: "socks5", Host: "h", Port: 1, Username: "us@er", Password: "p:ss"}},
		{"ipv6", "http://[::1]:3128", types.ProxyConfig{Scheme: "http", Host: "::1", Port: 3128}},
		{"uppercase scheme", "HTTPS://Example.com", types.ProxyConfig{Scheme: "https", Host: "Example.com", Port: 443}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			if err != nil {
				t.Fatalf("Parse(%q) returned an error: %v", tt.in, err)
			}
			if *got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.in, *got, tt.want)
			}
		})
	}
}

func TestParse_Rejects(t *testing.T) {
	inputs := []string{
		"ftp://host:21",
		"://nope",
		"socks5://",
		"http://host:notaport",
		"http://host:70000",
		"host:8080",
		"",
	}
	for _, in := range inputs {
		if got, err := Parse(in); err == nil {
			t.Errorf("Parse(%q) = %+v, expected failure", in, got)
		}
	}

	if _, err := Parse("ftp://host:21"); !errors.Is(err, ErrUnsupportedScheme) {
		t.Errorf("expected ErrUnsupportedScheme, got %v", err)
	}
}

func TestSerialize(t *testing.T) {
	tests := []struct {
		in   types.ProxyConfig
		want string
	}{
		{types.ProxyConfig{Scheme: "https", Host: "tok.proxy.example", Port: 443}, "https://tok.proxy.example:443"},
		{types.ProxyConfig{Scheme: "socks5", Host: "h"}, "socks5://h:1080"},
		{types.ProxyConfig{Scheme: "http", Host: "h", Port: 80, Username: "u"}, "http://h:80"},
		{types.ProxyConfig{Scheme: "http", Host: "h", Port: 80, Username: "a b", Password: "c@d"}, "http://a%20b:c%40d@h:80"},
		{types.ProxyConfig{Scheme: "http", Host: "::1", Port: 3128}, "http://[::1]:3128"},
	}
	for _, tt := range tests {
		if got := Serialize(tt.in); got != tt.want {
			t.Errorf("Serialize(%+v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	configs := []types.ProxyConfig{
		{Scheme: "http", Host: "proxy.local", Port: 8080},
		{Scheme: "https", Host: "tok.proxy.example", Port: 443},
		{Scheme: "socks4", Host: "192.168.1.1", Port: 1080},
		{Scheme: "socks5", Host: "s.example", Port: 1, Username: "user", Password: "pa:ss/w@rd?"},
		{Scheme: "socks5", Host: "s.example", Port: 65535, Username: "ünï", Password: "%20+"},
		{Scheme: "http", Host: "fe80::1", Port: 3128},
	}
	for _, c := range configs {
		got, err := Parse(Serialize(c))
		if err != nil {
			t.Fatalf("round trip of %+v failed: %v", c, err)
		}
		if *got != c {
			t.Errorf("round trip of %+v produced %+v", c, *got)
		}
	}
}

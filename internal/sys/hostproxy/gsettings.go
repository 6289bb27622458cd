package hostproxy

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"urproxy/internal/shared/types"
)

const gnomeProxySchema = "org.gnome.system.proxy"

// runner executes one gsettings invocation and returns trimmed stdout.
type runner func(ctx context.Context, args ...string) (string, error)

func execGSettings(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "gsettings", args...).Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return "", fmt.Errorf("gsettings %s: %s", strings.Join(args, " "), strings.TrimSpace(string(ee.Stderr)))
		}
		return "", fmt.Errorf("gsettings %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// GSettings drives the GNOME desktop proxy through the gsettings binary.
// GNOME has no notion of socks4 vs socks5 or of TLS to the proxy, so a
// socks rule reads back as socks5 and an http/https rule as http.
type GSettings struct {
	run runner
}

func newGSettings(run runner) *GSettings {
	return &GSettings{run: run}
}

// gsettingsUsable reports whether a desktop session with gsettings exists.
func gsettingsUsable() bool {
	if os.Getenv("DBUS_SESSION_BUS_ADDRESS") == "" {
		return false
	}
	_, err := exec.LookPath("gsettings")
	return err == nil
}

func (g *GSettings) Get(ctx context.Context) (Value, error) {
	mode, err := g.run(ctx, "get", gnomeProxySchema, "mode")
	if err != nil {
		return Value{}, err
	}
	switch unquoteGVariant(mode) {
	case "none":
		return Direct(), nil
	case "auto":
		return Value{Mode: ModeSystem}, nil
	}

	ignore, err := g.run(ctx, "get", gnomeProxySchema, "ignore-hosts")
	if err != nil {
		return Value{}, err
	}
	bypass := parseGVariantStrings(ignore)

	for _, c := range []struct {
		sub    string
		scheme types.Scheme
	}{{"socks", types.SchemeSOCKS5}, {"http", types.SchemeHTTP}} {
		host, err := g.run(ctx, "get", gnomeProxySchema+"."+c.sub, "host")
		if err != nil {
			return Value{}, err
		}
		if h := unquoteGVariant(host); h != "" {
			portStr, err := g.run(ctx, "get", gnomeProxySchema+"."+c.sub, "port")
			if err != nil {
				return Value{}, err
			}
			port, _ := strconv.Atoi(portStr)
			return Value{
				Mode:       ModeFixedServers,
				Rule:       &Rule{Scheme: c.scheme, Host: h, Port: port},
				BypassList: bypass,
			}, nil
		}
	}
	// manual mode without any host configured routes nothing.
	return Direct(), nil
}

func (g *GSettings) Set(ctx context.Context, v Value) error {
	if !v.Active() {
		_, err := g.run(ctx, "set", gnomeProxySchema, "mode", "'none'")
		return err
	}

	r := v.Rule
	port := strconv.Itoa(r.Port)
	if r.Port == 0 {
		port = strconv.Itoa(r.Scheme.DefaultPort())
	}

	var cmds [][]string
	switch r.Scheme {
	case types.SchemeSOCKS4, types.SchemeSOCKS5:
		cmds = append(cmds,
			[]string{"set", gnomeProxySchema + ".socks", "host", quoteGVariant(r.Host)},
			[]string{"set", gnomeProxySchema + ".socks", "port", port},
			[]string{"set", gnomeProxySchema + ".http", "host", "''"},
			[]string{"set", gnomeProxySchema + ".https", "host", "''"},
		)
	default:
		cmds = append(cmds,
			[]string{"set", gnomeProxySchema + ".http", "host", quoteGVariant(r.Host)},
			[]string{"set", gnomeProxySchema + ".http", "port", port},
			[]string{"set", gnomeProxySchema + ".https", "host", quoteGVariant(r.Host)},
			[]string{"set", gnomeProxySchema + ".https", "port", port},
			[]string{"set", gnomeProxySchema + ".socks", "host", "''"},
		)
	}
	cmds = append(cmds,
		[]string{"set", gnomeProxySchema, "ignore-hosts", formatGVariantStrings(v.BypassList)},
		[]string{"set", gnomeProxySchema, "mode", "'manual'"},
	)

	for _, args := range cmds {
		if _, err := g.run(ctx, args...); err != nil {
			return err
		}
	}
	return nil
}

func unquoteGVariant(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		s = s[1 : len(s)-1]
	}
	return strings.ReplaceAll(s, `\'`, `'`)
}

func quoteGVariant(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

// parseGVariantStrings reads an "as" value such as ['a', 'b'] or @as [].
func parseGVariantStrings(s string) []string {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "@as"))
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := unquoteGVariant(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func formatGVariantStrings(items []string) string {
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = quoteGVariant(it)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

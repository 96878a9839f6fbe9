package backends

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// defaultAllowedCommands are the bare command names a stdio backend may
// launch unless MCPMUX_ALLOWED_COMMANDS overrides the set.
var defaultAllowedCommands = map[string]struct{}{
	"node":    {},
	"npx":     {},
	"uvx":     {},
	"python":  {},
	"python3": {},
	"uv":      {},
	"docker":  {},
}

// protectedEnv lists variables a backend config may never override:
// loader injection, interpreter injection, shell startup hooks, traffic
// interception, and process identity.
var protectedEnv = map[string]struct{}{
	"PATH": {}, "LD_PRELOAD": {}, "LD_LIBRARY_PATH": {},
	"DYLD_INSERT_LIBRARIES": {}, "DYLD_LIBRARY_PATH": {}, "DYLD_FRAMEWORK_PATH": {},
	"PYTHONPATH": {}, "PYTHONHOME": {}, "PYTHONSTARTUP": {},
	"NODE_OPTIONS": {}, "NODE_PATH": {}, "NODE_EXTRA_CA_CERTS": {},
	"BASH_ENV": {}, "ENV": {}, "ZDOTDIR": {},
	"http_proxy": {}, "https_proxy": {}, "HTTP_PROXY": {}, "HTTPS_PROXY": {},
	"ALL_PROXY": {}, "all_proxy": {},
	"HOME": {}, "USER": {},
	"PERL5LIB": {}, "PERL5OPT": {}, "RUBYLIB": {}, "RUBYOPT": {},
}

func allowedCommands() map[string]struct{} {
	raw := strings.TrimSpace(os.Getenv("MCPMUX_ALLOWED_COMMANDS"))
	if raw == "" {
		return defaultAllowedCommands
	}
	out := make(map[string]struct{})
	for _, cmd := range strings.Split(raw, ",") {
		if cmd = strings.TrimSpace(cmd); cmd != "" {
			out[cmd] = struct{}{}
		}
	}
	return out
}

// validateCommand rejects paths outright; only bare allowlisted command
// names may be launched.
func validateCommand(command string) error {
	if strings.ContainsAny(command, `/\`) || strings.Contains(command, string(os.PathSeparator)) {
		return fmt.Errorf("%w: %q contains path separators", ErrCommandNotAllowed, command)
	}
	name := filepath.Base(command)
	if _, ok := allowedCommands()[name]; !ok {
		return fmt.Errorf("%w: %q", ErrCommandNotAllowed, name)
	}
	return nil
}

// filterEnv drops protected variables from a backend-supplied
// environment map.
func filterEnv(env map[string]string) map[string]string {
	if len(env) == 0 {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		if _, protected := protectedEnv[k]; protected {
			continue
		}
		out[k] = v
	}
	return out
}

// validateURL resolves the hostname and rejects any address in a
// loopback, private (RFC 1918 or ULA), or link-local range.
func validateURL(ctx context.Context, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("backends: parse url %q: %w", raw, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("backends: url scheme %q not allowed", parsed.Scheme)
	}
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("backends: url %q has no hostname", raw)
	}

	var addrs []netip.Addr
	if addr, err := netip.ParseAddr(host); err == nil {
		addrs = []netip.Addr{addr}
	} else {
		resolved, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
		if err != nil {
			return fmt.Errorf("backends: resolve %q: %w", host, err)
		}
		addrs = resolved
	}
	for _, addr := range addrs {
		addr = addr.Unmap()
		if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() ||
			addr.IsLinkLocalMulticast() || addr.IsUnspecified() {
			return fmt.Errorf("%w: %q resolves to %s", ErrSSRFBlocked, host, addr)
		}
	}
	return nil
}

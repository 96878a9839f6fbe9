package backends

import (
	"context"
	"errors"
	"testing"
)

func TestValidateCommandAllowlist(t *testing.T) {
	t.Parallel()

	for _, cmd := range []string{"npx", "node", "uvx", "docker"} {
		if err := validateCommand(cmd); err != nil {
			t.Fatalf("validateCommand(%q) = %v, want nil", cmd, err)
		}
	}
	for _, cmd := range []string{"bash", "rm", "curl"} {
		if err := validateCommand(cmd); !errors.Is(err, ErrCommandNotAllowed) {
			t.Fatalf("validateCommand(%q) = %v, want ErrCommandNotAllowed", cmd, err)
		}
	}
}

func TestValidateCommandRejectsPaths(t *testing.T) {
	t.Parallel()

	for _, cmd := range []string{"/usr/bin/npx", "./npx", `..\npx`} {
		if err := validateCommand(cmd); !errors.Is(err, ErrCommandNotAllowed) {
			t.Fatalf("validateCommand(%q) = %v, want ErrCommandNotAllowed", cmd, err)
		}
	}
}

func TestValidateCommandEnvOverride(t *testing.T) {
	t.Setenv("MCPMUX_ALLOWED_COMMANDS", "mytool, other")

	if err := validateCommand("mytool"); err != nil {
		t.Fatalf("validateCommand(mytool) = %v, want nil", err)
	}
	if err := validateCommand("npx"); !errors.Is(err, ErrCommandNotAllowed) {
		t.Fatalf("override must replace the default allowlist, got %v", err)
	}
}

func TestFilterEnvDropsProtectedVars(t *testing.T) {
	t.Parallel()

	in := map[string]string{
		"API_TOKEN":    "ok",
		"PATH":         "/evil",
		"LD_PRELOAD":   "/evil.so",
		"NODE_OPTIONS": "--require evil",
		"HTTP_PROXY":   "http://evil",
	}
	out := filterEnv(in)
	if len(out) != 1 || out["API_TOKEN"] != "ok" {
		t.Fatalf("filterEnv = %v, want only API_TOKEN", out)
	}
	if filterEnv(nil) != nil {
		t.Fatalf("empty env should stay empty")
	}
}

func TestValidateURLBlocksPrivateRanges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blocked := []string{
		"http://127.0.0.1:8080/mcp",
		"http://10.0.0.5/mcp",
		"http://192.168.1.10/mcp",
		"http://169.254.169.254/latest/meta-data",
		"http://[::1]/mcp",
		"http://[fe80::1]/mcp",
		"http://[fc00::1]/mcp",
	}
	for _, u := range blocked {
		if err := validateURL(ctx, u); !errors.Is(err, ErrSSRFBlocked) {
			t.Fatalf("validateURL(%q) = %v, want ErrSSRFBlocked", u, err)
		}
	}
}

func TestValidateURLRejectsBadSchemes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	for _, u := range []string{"ftp://example.com/x", "file:///etc/passwd", "http://"} {
		if err := validateURL(ctx, u); err == nil {
			t.Fatalf("validateURL(%q) unexpectedly passed", u)
		}
	}
}

func TestValidateURLAllowsPublicAddresses(t *testing.T) {
	t.Parallel()

	// Literal public address: no DNS involved.
	if err := validateURL(context.Background(), "https://93.184.216.34/mcp"); err != nil {
		t.Fatalf("validateURL(public literal) = %v, want nil", err)
	}
}

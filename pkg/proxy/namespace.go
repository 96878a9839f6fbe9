package proxy

import (
	"fmt"
	"strings"

	"github.com/mcpmux/mcpmux/pkg/config"
)

// Separator joins a backend name and a backend-local identifier into
// the qualified name clients see. Backend names are restricted to
// identifier characters, so the separator can never occur inside one
// and the split below is unambiguous.
const Separator = "::"

// Qualify returns the exposed identifier for a backend-local name.
func Qualify(backend, name string) string {
	return backend + Separator + name
}

// SplitName splits a qualified identifier on the first separator.
func SplitName(qualified string) (backend, name string, err error) {
	backend, name, ok := strings.Cut(qualified, Separator)
	if !ok || backend == "" || name == "" {
		return "", "", fmt.Errorf("proxy: %q is not a qualified name", qualified)
	}
	return backend, name, nil
}

func validateBackendName(name string) error {
	if !config.ValidBackendName(name) {
		return fmt.Errorf("proxy: invalid backend name %q", name)
	}
	return nil
}

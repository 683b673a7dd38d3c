package env

import (
	"os"
	"strings"
)

type Var map[string]string

// Env composes the environment handed to the backend subprocess: the host's
// OS environment as the base, then the forced overrides applied on top.
type Env struct {
	Var Var // overrides (K->V), applied last
	env Var // cached base from OS environment
}

func New() *Env {
	return &Env{Var: make(Var)}
}

// ForcedUTF8 returns an Env preloaded with the overrides every backend launch
// requires: unbuffered, UTF-8 text I/O regardless of the host locale.
func ForcedUTF8() *Env {
	e := New()
	e.Set("PYTHONUNBUFFERED", "1")
	e.Set("PYTHONIOENCODING", "utf-8")
	return e
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			if k == "" {
				continue
			}
			base[k] = kv[i+1:]
		}
	}
	e.env = base
}

// WithoutOS pins an empty base so Merge does not pull the OS environment.
func (e *Env) WithoutOS() {
	e.env = make(Var)
}

// Set records an override K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Merge returns the final environment in "K=V" form: OS base (cached on first
// use), then e.Var, then extra entries, later writers winning.
func (e *Env) Merge(extra []string) []string {
	if e.env == nil {
		e.FromOS()
	}
	m := make(Var, len(e.env)+len(e.Var)+len(extra))
	for k, v := range e.env {
		m[k] = v
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for _, kv := range extra {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			if k == "" {
				continue
			}
			m[k] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out
}

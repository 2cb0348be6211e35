package secrets_test

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/halcyonsec/OpForge/internal/secrets"
)

// fixedLoader returns the same secret set on every call.
func fixedLoader(vals map[string]string) secrets.Loader {
	return func() (map[string]string, error) { return vals, nil }
}

func TestVault_InitialLoadAndGet(t *testing.T) {
	v, err := secrets.NewVault(fixedLoader(map[string]string{
		"CALDERA_API_KEY": "ADMIN123",
		"WEBHOOK_TOKEN":   "wh-secret-9",
	}))
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}

	if got := v.Get("CALDERA_API_KEY"); got != "ADMIN123" {
		t.Errorf("Get(CALDERA_API_KEY) = %q", got)
	}
	if got := v.Get("WEBHOOK_TOKEN"); got != "wh-secret-9" {
		t.Errorf("Get(WEBHOOK_TOKEN) = %q", got)
	}
	if got := v.Get("NOT_LOADED"); got != "" {
		t.Errorf("Get of unknown key = %q, want empty", got)
	}
}

func TestVault_LoaderFailureAtConstruction(t *testing.T) {
	_, err := secrets.NewVault(func() (map[string]string, error) {
		return nil, errors.New("vault sealed")
	})
	if err == nil {
		t.Fatal("NewVault must surface the initial load failure")
	}
}

func TestVault_ReloadSwapsAndFailedReloadKeeps(t *testing.T) {
	responses := []struct {
		vals map[string]string
		err  error
	}{
		{vals: map[string]string{"CALDERA_API_KEY": "rotated-out"}},
		{vals: map[string]string{"CALDERA_API_KEY": "rotated-in"}},
		{err: errors.New("vault unavailable")},
	}
	call := 0
	v, err := secrets.NewVault(func() (map[string]string, error) {
		r := responses[call]
		call++
		return r.vals, r.err
	})
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}

	if err := v.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := v.Get("CALDERA_API_KEY"); got != "rotated-in" {
		t.Fatalf("after reload got %q, want rotated-in", got)
	}

	// A failing reload must not clobber the loaded values.
	if err := v.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if got := v.Get("CALDERA_API_KEY"); got != "rotated-in" {
		t.Errorf("after failed reload got %q, want rotated-in", got)
	}
}

func TestVault_ReadersRaceReloaders(t *testing.T) {
	v, err := secrets.NewVault(fixedLoader(map[string]string{"K": "V"}))
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = v.Get("K")
		}()
		go func() {
			defer wg.Done()
			_ = v.Reload()
		}()
	}
	wg.Wait()
}

func TestVault_Redacted(t *testing.T) {
	v, err := secrets.NewVault(fixedLoader(map[string]string{
		"CALDERA_API_KEY": "ADMIN123",
		"PIN":             "42",
	}))
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}

	cases := map[string]string{
		"CALDERA_API_KEY": "AD****", // long: first two chars survive
		"PIN":             "****",   // short: fully masked
		"ABSENT":          "",
	}
	for key, want := range cases {
		if got := v.Redacted(key); got != want {
			t.Errorf("Redacted(%s) = %q, want %q", key, got, want)
		}
	}
}

func TestVault_RedactString(t *testing.T) {
	v, err := secrets.NewVault(fixedLoader(map[string]string{
		"CALDERA_API_KEY": "ADMIN123",
		"PIN":             "42", // too short, never substituted
	}))
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}

	line := "submit failed: 401 from http://caldera:8888 using key ADMIN123 (pin 42)"
	got := v.RedactString(line)

	if strings.Contains(got, "ADMIN123") {
		t.Errorf("API key leaked through redaction: %q", got)
	}
	if !strings.Contains(got, "AD****") {
		t.Errorf("masked key missing from %q", got)
	}
	if !strings.Contains(got, "pin 42") {
		t.Errorf("short value must pass through untouched, got %q", got)
	}

	clean := "no secrets here"
	if got := v.RedactString(clean); got != clean {
		t.Errorf("clean string changed to %q", got)
	}
}

func TestVault_Keys(t *testing.T) {
	v, err := secrets.NewVault(fixedLoader(map[string]string{
		"CALDERA_API_KEY": "x",
		"WEBHOOK_TOKEN":   "y",
	}))
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}

	keys := v.Keys()
	if len(keys) != 2 {
		t.Fatalf("Keys() returned %d entries, want 2", len(keys))
	}
	seen := map[string]bool{}
	for _, k := range keys {
		seen[k] = true
	}
	if !seen["CALDERA_API_KEY"] || !seen["WEBHOOK_TOKEN"] {
		t.Errorf("Keys() = %v", keys)
	}
}

func TestEnvLoader_SkipsUnset(t *testing.T) {
	t.Setenv("OPFORGE_TEST_KEY", "present")

	vals, err := secrets.EnvLoader("OPFORGE_TEST_KEY", "OPFORGE_UNSET_KEY")()
	if err != nil {
		t.Fatalf("EnvLoader: %v", err)
	}
	if vals["OPFORGE_TEST_KEY"] != "present" {
		t.Errorf("loaded %q, want present", vals["OPFORGE_TEST_KEY"])
	}
	if _, ok := vals["OPFORGE_UNSET_KEY"]; ok {
		t.Error("unset variable must not appear in the vault")
	}
}

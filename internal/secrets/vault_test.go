package secrets_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/sprintpilot/sprintpilot/internal/secrets"
)

func TestVaultInitialLoad(t *testing.T) {
	v, err := secrets.NewVault(func() (map[string]string, error) {
		return map[string]string{"GH_TOKEN": "ghp_abc"}, nil
	})
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}
	if got := v.Get("GH_TOKEN"); got != "ghp_abc" {
		t.Fatalf("Get = %q, want ghp_abc", got)
	}
	if got := v.Get("MISSING"); got != "" {
		t.Fatalf("missing key = %q, want empty", got)
	}
}

func TestVaultLoaderError(t *testing.T) {
	_, err := secrets.NewVault(func() (map[string]string, error) {
		return nil, errors.New("connection refused")
	})
	if err == nil {
		t.Fatal("expected error from failing loader")
	}
}

func TestVaultReloadSwapsValues(t *testing.T) {
	token := "old"
	v, err := secrets.NewVault(func() (map[string]string, error) {
		return map[string]string{"GH_TOKEN": token}, nil
	})
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}

	token = "new"
	if err := v.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := v.Get("GH_TOKEN"); got != "new" {
		t.Fatalf("Get after reload = %q, want new", got)
	}
}

func TestVaultReloadErrorKeepsOldValues(t *testing.T) {
	fail := false
	v, err := secrets.NewVault(func() (map[string]string, error) {
		if fail {
			return nil, errors.New("vault down")
		}
		return map[string]string{"KEY": "stable"}, nil
	})
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}

	fail = true
	if err := v.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if got := v.Get("KEY"); got != "stable" {
		t.Fatalf("Get after failed reload = %q, want stable", got)
	}
}

func TestVaultAllReturnsCopy(t *testing.T) {
	v, err := secrets.NewVault(func() (map[string]string, error) {
		return map[string]string{"A": "1", "B": "2"}, nil
	})
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}

	all := v.All()
	if len(all) != 2 || all["A"] != "1" {
		t.Fatalf("All = %v", all)
	}

	// Mutating the copy must not leak back into the vault.
	all["A"] = "tampered"
	if got := v.Get("A"); got != "1" {
		t.Fatalf("Get after tampering copy = %q, want 1", got)
	}
}

func TestVaultConcurrentAccess(t *testing.T) {
	v, err := secrets.NewVault(func() (map[string]string, error) {
		return map[string]string{"KEY": "val"}, nil
	})
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = v.Get("KEY")
				_ = v.All()
				_ = v.Reload()
			}
		}()
	}
	wg.Wait()
}

func TestEnvLoaderReadsEnvironment(t *testing.T) {
	t.Setenv("SPRINTPILOT_TEST_SECRET", "s3cret")

	loader := secrets.EnvLoader("SPRINTPILOT_TEST_SECRET", "SPRINTPILOT_TEST_UNSET")
	vals, err := loader()
	if err != nil {
		t.Fatalf("loader: %v", err)
	}
	if vals["SPRINTPILOT_TEST_SECRET"] != "s3cret" {
		t.Fatalf("vals = %v", vals)
	}
	if _, ok := vals["SPRINTPILOT_TEST_UNSET"]; ok {
		t.Fatal("unset variable should be omitted")
	}
}

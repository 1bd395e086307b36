package passphrase

import "testing"

func TestSourceReadsEnvironment(t *testing.T) {
	t.Setenv("TOKENSWAP_TEST_PASSPHRASE", "correct horse")
	src := NewSource("TOKENSWAP_TEST_PASSPHRASE", "treasury keystore")
	got, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "correct horse" {
		t.Fatalf("unexpected passphrase %q", got)
	}
	t.Setenv("TOKENSWAP_TEST_PASSPHRASE", "changed")
	if again, _ := src.Get(); again != "correct horse" {
		t.Fatalf("expected cached passphrase, got %q", again)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("TOKENSWAP_TEST_PASSPHRASE", "   ")
	if _, err := NewSource("TOKENSWAP_TEST_PASSPHRASE", "").Get(); err == nil {
		t.Fatalf("expected blank passphrase to be rejected")
	}
}

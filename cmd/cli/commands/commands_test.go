package commands

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewOrderCmd(t *testing.T) {
	cmd := NewOrderCmd()

	if cmd == nil {
		t.Fatal("NewOrderCmd returned nil")
	}

	if cmd.Use != "order" {
		t.Errorf("Use mismatch: got %s, want order", cmd.Use)
	}

	if !cmd.HasSubCommands() {
		t.Error("order should have subcommands")
	}

	subCommands := cmd.Commands()
	expectedSubCmds := map[string]bool{
		"create":    false,
		"get":       false,
		"proposals": false,
		"refund":    false,
		"cancel":    false,
	}

	for _, subCmd := range subCommands {
		if _, exists := expectedSubCmds[subCmd.Name()]; exists {
			expectedSubCmds[subCmd.Name()] = true
		}
	}

	for name, found := range expectedSubCmds {
		if !found {
			t.Errorf("Missing order subcommand: %s", name)
		}
	}
}

func TestNewProposalCmd(t *testing.T) {
	cmd := NewProposalCmd()

	if cmd == nil {
		t.Fatal("NewProposalCmd returned nil")
	}

	if cmd.Use != "proposal" {
		t.Errorf("Use mismatch: got %s, want proposal", cmd.Use)
	}

	subCommands := cmd.Commands()
	expectedSubCmds := map[string]bool{
		"create":  false,
		"accept":  false,
		"reject":  false,
		"timeout": false,
		"execute": false,
	}

	for _, subCmd := range subCommands {
		if _, exists := expectedSubCmds[subCmd.Name()]; exists {
			expectedSubCmds[subCmd.Name()] = true
		}
	}

	for name, found := range expectedSubCmds {
		if !found {
			t.Errorf("Missing proposal subcommand: %s", name)
		}
	}
}

func TestNewIntentCmd(t *testing.T) {
	cmd := NewIntentCmd()

	if cmd == nil {
		t.Fatal("NewIntentCmd returned nil")
	}

	if cmd.Use != "intent" {
		t.Errorf("Use mismatch: got %s, want intent", cmd.Use)
	}

	registerCmd, _, err := cmd.Find([]string{"register"})
	if err != nil {
		t.Fatalf("intent register not found: %v", err)
	}

	for _, flag := range []string{"currency", "amount", "min-fee-bps", "max-fee-bps", "commitment-window"} {
		if registerCmd.Flags().Lookup(flag) == nil {
			t.Errorf("--%s flag should exist on intent register", flag)
		}
	}
}

func TestNewOrderCreateFlags(t *testing.T) {
	cmd := NewOrderCmd()
	createCmd, _, err := cmd.Find([]string{"create"})
	if err != nil {
		t.Fatalf("order create not found: %v", err)
	}

	for _, flag := range []string{"asset", "amount", "refund-address", "integrator", "integrator-fee-bps", "message-hash"} {
		if createCmd.Flags().Lookup(flag) == nil {
			t.Errorf("--%s flag should exist on order create", flag)
		}
	}
}

func TestNewProviderCmd(t *testing.T) {
	cmd := NewProviderCmd()

	if cmd == nil {
		t.Fatal("NewProviderCmd returned nil")
	}

	if cmd.Use != "provider" {
		t.Errorf("Use mismatch: got %s, want provider", cmd.Use)
	}
}

func TestNewIntegratorCmd(t *testing.T) {
	cmd := NewIntegratorCmd()

	if cmd == nil {
		t.Fatal("NewIntegratorCmd returned nil")
	}

	if cmd.Use != "integrator" {
		t.Errorf("Use mismatch: got %s, want integrator", cmd.Use)
	}
}

func TestNewAdminCmd(t *testing.T) {
	cmd := NewAdminCmd()

	if cmd == nil {
		t.Fatal("NewAdminCmd returned nil")
	}

	if !cmd.HasSubCommands() {
		t.Error("admin should have subcommands")
	}
}

func TestTruncateID(t *testing.T) {
	tests := []struct {
		id     string
		maxLen int
		want   string
	}{
		{"short", 10, "short"},
		{"exactlength", 11, "exactlength"},
		{"thisisaverylongid", 10, "thisisa..."}, // 7 chars + "..." = 10
		{"", 10, ""},
	}

	for _, tt := range tests {
		got := truncateID(tt.id, tt.maxLen)
		if got != tt.want {
			t.Errorf("truncateID(%s, %d) = %s, want %s", tt.id, tt.maxLen, got, tt.want)
		}
	}
}

func TestAddThousandsSep(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "0"},
		{"999", "999"},
		{"1000", "1,000"},
		{"1000000", "1,000,000"},
		{"-12345", "-12,345"},
	}

	for _, tt := range tests {
		if got := addThousandsSep(tt.in); got != tt.want {
			t.Errorf("addThousandsSep(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestFormatBps(t *testing.T) {
	tests := []struct {
		bps  uint64
		want string
	}{
		{0, "0%"},
		{100, "0.1%"},
		{150, "0.15%"},
		{1000, "1%"},
		{2500, "2.5%"},
		{100000, "100%"},
	}

	for _, tt := range tests {
		if got := FormatBps(tt.bps); got != tt.want {
			t.Errorf("FormatBps(%d) = %s, want %s", tt.bps, got, tt.want)
		}
	}
}

func TestClientSendsCallerHeader(t *testing.T) {
	var gotCaller string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCaller = r.Header.Get("X-Caller-Address")
		_ = json.NewEncoder(w).Encode(map[string]uint64{"nonce": 7})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "0x1234")
	nonce, err := c.Nonce("0xabcd")
	if err != nil {
		t.Fatalf("Nonce failed: %v", err)
	}
	if nonce != 7 {
		t.Errorf("nonce = %d, want 7", nonce)
	}
	if gotCaller != "0x1234" {
		t.Errorf("caller header = %q, want 0x1234", gotCaller)
	}
}

func TestClientDecodesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "replay", "error": "message hash already used"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.GetOrder("0xdead")
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *APIError
	if !asAPIError(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.Status != http.StatusConflict {
		t.Errorf("status = %d, want 409", apiErr.Status)
	}
	if apiErr.Code != "replay" {
		t.Errorf("code = %s, want replay", apiErr.Code)
	}
}

func TestClientDoesNotRetryAPIErrors(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "validation", "error": "amount must be positive"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "0x1234")
	if _, err := c.GetOrder("0xdead"); err == nil {
		t.Fatal("expected error")
	}
	if hits != 1 {
		t.Errorf("server hit %d times, want 1 (no retries on API errors)", hits)
	}
}

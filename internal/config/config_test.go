package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TABLECRM_API_URL", "https://crm.example/api/v1/")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TableCRMAPIURL != "https://crm.example/api/v1" {
		t.Fatalf("trailing slash not trimmed: %q", cfg.TableCRMAPIURL)
	}
	if cfg.ClientsPageSize != 100 || cfg.ClientsMaxTotal != 500 {
		t.Fatalf("directory defaults: %d/%d", cfg.ClientsPageSize, cfg.ClientsMaxTotal)
	}
	if cfg.OrdersRetryAttempts != 2 || cfg.OrdersRetryDelay != time.Second {
		t.Fatalf("retry defaults: %d/%v", cfg.OrdersRetryAttempts, cfg.OrdersRetryDelay)
	}
	if cfg.SearchDebounce != 500*time.Millisecond {
		t.Fatalf("debounce default %v", cfg.SearchDebounce)
	}
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("unexpected validation errors: %v", errs)
	}
}

func TestLoad_ParsesValues(t *testing.T) {
	t.Setenv("SEARCH_DEBOUNCE", "250")
	t.Setenv("ORDERS_RETRY_DELAY", "2s")
	t.Setenv("TABLECRM_AUTH_HEADER", "true")
	t.Setenv("AUTHORIZED_USERS", "1, 2,,3")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SearchDebounce != 250*time.Millisecond {
		t.Fatalf("debounce %v", cfg.SearchDebounce)
	}
	if cfg.OrdersRetryDelay != 2*time.Second {
		t.Fatalf("retry delay %v", cfg.OrdersRetryDelay)
	}
	if !cfg.TableCRMAuthHeader {
		t.Fatalf("auth header not parsed")
	}
	if len(cfg.AuthorizedUsers) != 3 || !cfg.IsAuthorizedUser(2) || cfg.IsAuthorizedUser(4) {
		t.Fatalf("authorized users %v", cfg.AuthorizedUsers)
	}
}

func TestLoad_InvalidNumber(t *testing.T) {
	t.Setenv("CLIENTS_PAGE_SIZE", "many")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		ListenAddr:       ":0",
		TableCRMAPIURL:   "https://crm.example",
		ClientsPageSize:  0,
		DBDriver:         "mysql",
		TelegramBotToken: "bot-token",
	}
	errs := cfg.Validate()
	if len(errs) != 3 {
		t.Fatalf("expected 3 errors, got %v", errs)
	}
}

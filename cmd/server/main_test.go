package main

import (
	"testing"

	"kasirinaja/posledger/internal/config"
)

const strongSecret = "0123456789abcdef0123456789abcdef"

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	cases := []config.Config{
		{AuthSecret: "short", ManagerPIN: "739154"},
		{AuthSecret: strongSecret, ManagerPIN: "123456"},
		{AuthSecret: strongSecret, ManagerPIN: "444444"},
		{AuthSecret: strongSecret, ManagerPIN: "987654"},
		{AuthSecret: strongSecret, ManagerPIN: "739154", SeedAdminPassword: "short"},
	}
	for _, cfg := range cases {
		if err := validateSecurityConfig(cfg); err == nil {
			t.Fatalf("expected %+v to be rejected", cfg)
		}
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: strongSecret, ManagerPIN: "739154", SeedAdminPassword: "kasir-rahasia"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

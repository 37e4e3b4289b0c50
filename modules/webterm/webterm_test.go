// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package webterm

import (
	"testing"
)

func validConfig() Config {
	return Config{
		ListenAddress:    "127.0.0.1:8400",
		AppURL:           "https://term.example.org",
		LogoutURL:        "https://term.example.org/logout",
		Issuer:           "https://sso.example.org",
		ClientID:         "webterm",
		UserinfoEndpoint: "https://sso.example.org/userinfo",
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"complete", func(c *Config) {}, true},
		{"secret is optional", func(c *Config) { c.ClientSecret = "" }, true},
		{"missing listen address", func(c *Config) { c.ListenAddress = "" }, false},
		{"relative app URL", func(c *Config) { c.AppURL = "/terminal" }, false},
		{"empty issuer", func(c *Config) { c.Issuer = "" }, false},
		{"missing client id", func(c *Config) { c.ClientID = "" }, false},
		{"schemeless userinfo", func(c *Config) { c.UserinfoEndpoint = "sso.example.org/userinfo" }, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			moduleConfig := validConfig()
			test.mutate(&moduleConfig)
			err := moduleConfig.validate()
			if test.ok && err != nil {
				t.Errorf("validate() = %v, want nil", err)
			}
			if !test.ok && err == nil {
				t.Error("validate() = nil, want error")
			}
		})
	}
}

// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package webterm points users at the community's web terminal. The
// terminal itself is a separate deployment fronted by an OIDC proxy;
// this module only validates that deployment's settings and answers
// the keyword with the app URL.
package webterm

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/switchboard-bot/switchboard/bot"
	"github.com/switchboard-bot/switchboard/lib/config"
)

// Config is the [module.webterm] table. It mirrors the terminal
// deployment's own settings so a drift between the two shows up at
// reload time.
type Config struct {
	// ListenAddress is where the terminal's proxy listens.
	ListenAddress string `toml:"listen_address"`
	// AppURL is the user-facing terminal URL, handed out on request.
	AppURL string `toml:"app_url"`
	// LogoutURL ends the proxy session.
	LogoutURL string `toml:"logout_url"`
	// Issuer is the OIDC issuer.
	Issuer string `toml:"issuer"`
	// ClientID is the OIDC client identifier.
	ClientID string `toml:"client_id"`
	// ClientSecret is optional; public clients omit it.
	ClientSecret string `toml:"client_secret"`
	// UserinfoEndpoint is the issuer's userinfo URL.
	UserinfoEndpoint string `toml:"userinfo_endpoint"`
}

func (c Config) validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("webterm: listen_address is required")
	}
	for name, value := range map[string]string{
		"app_url":           c.AppURL,
		"logout_url":        c.LogoutURL,
		"issuer":            c.Issuer,
		"userinfo_endpoint": c.UserinfoEndpoint,
	} {
		parsed, err := url.Parse(value)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("webterm: %s %q is not an absolute URL", name, value)
		}
	}
	if c.ClientID == "" {
		return fmt.Errorf("webterm: client_id is required")
	}
	return nil
}

// Starter builds the webterm module.
func Starter() bot.NamedStarter {
	return bot.NamedStarter{Name: "webterm", Start: func(env *bot.Environment) ([]*bot.Spec, error) {
		moduleConfig, err := config.ModuleConfig[Config](env.Config.Snapshot(), "webterm")
		if err != nil {
			var missing *config.NoModuleConfigError
			if errors.As(err, &missing) {
				return nil, nil
			}
			return nil, err
		}
		if err := moduleConfig.validate(); err != nil {
			return nil, err
		}

		return []*bot.Spec{{
			Name:     "webterm",
			Help:     "get the web terminal address",
			Keywords: []string{".terminal"},
			Handle: func(ctx context.Context, event *bot.ConsumerEvent) error {
				return env.Apply(ctx, bot.Action{
					Kind: bot.ActionNotice,
					Room: event.Room,
					Body: fmt.Sprintf("the web terminal lives at %s (log out at %s)",
						moduleConfig.AppURL, moduleConfig.LogoutURL),
				})
			},
		}}, nil
	}}
}

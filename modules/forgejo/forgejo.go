// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package forgejo polls a Forgejo instance for new open issues and
// announces them. The first poll only populates the seen set, so a
// restart does not re-announce the whole tracker.
package forgejo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/switchboard-bot/switchboard/bot"
	"github.com/switchboard-bot/switchboard/lib/config"
	"github.com/switchboard-bot/switchboard/lib/ref"
	"github.com/switchboard-bot/switchboard/messaging"
)

const defaultInterval = 5 * time.Minute

// maxResponseBytes caps a single issue-list response.
const maxResponseBytes = 8 << 20

// Config is the [module.forgejo] table.
type Config struct {
	// BaseURL is the Forgejo instance, e.g. "https://codeberg.org".
	BaseURL string `toml:"base_url"`
	// Token is an optional API token for private repositories.
	Token string `toml:"token"`
	// Repos lists "owner/name" repositories to watch.
	Repos []string `toml:"repos"`
	// IntervalMinutes is the polling interval; 0 means 5 minutes.
	IntervalMinutes int `toml:"interval_minutes"`
	// Rooms receive the announcements.
	Rooms []string `toml:"rooms"`
}

// issue is the slice of the Forgejo issue object the poller reads.
type issue struct {
	ID      int64  `json:"id"`
	Number  int64  `json:"number"`
	Title   string `json:"title"`
	HTMLURL string `json:"html_url"`
	User    struct {
		Login string `json:"login"`
	} `json:"user"`
}

// WorkerStarter builds the polling worker.
func WorkerStarter() bot.NamedWorkerStarter {
	return bot.NamedWorkerStarter{Name: "forgejo", Start: func(env *bot.Environment) ([]bot.Worker, error) {
		moduleConfig, err := config.ModuleConfig[Config](env.Config.Snapshot(), "forgejo")
		if err != nil {
			var missing *config.NoModuleConfigError
			if errors.As(err, &missing) {
				return nil, nil
			}
			return nil, err
		}
		if moduleConfig.BaseURL == "" || len(moduleConfig.Repos) == 0 {
			return nil, fmt.Errorf("forgejo: base_url and repos are required")
		}

		poller := &poller{
			env:        env,
			config:     moduleConfig,
			httpClient: &http.Client{Timeout: 30 * time.Second},
			seen:       make(map[int64]bool),
		}
		return []bot.Worker{poller.run}, nil
	}}
}

type poller struct {
	env        *bot.Environment
	config     Config
	httpClient *http.Client

	// seen holds announced issue IDs. In-memory only: a restart
	// re-primes it on the suppressed first tick.
	seen map[int64]bool
}

func (p *poller) run(ctx context.Context) {
	interval := defaultInterval
	if p.config.IntervalMinutes > 0 {
		interval = time.Duration(p.config.IntervalMinutes) * time.Minute
	}

	// First tick: populate the seen set without announcing.
	p.poll(ctx, false)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.poll(ctx, true)
		case <-ctx.Done():
			return
		}
	}
}

// poll diffs each repository's open issues against the seen set.
func (p *poller) poll(ctx context.Context, announce bool) {
	for _, repo := range p.config.Repos {
		issues, err := p.fetchIssues(ctx, repo)
		if err != nil {
			p.env.Logger.Error("forgejo poll failed", "repo", repo, "error", err)
			continue
		}
		for _, item := range issues {
			if p.seen[item.ID] {
				continue
			}
			p.seen[item.ID] = true
			if !announce {
				continue
			}
			p.announce(ctx, repo, item)
		}
	}
}

func (p *poller) fetchIssues(ctx context.Context, repo string) ([]issue, error) {
	requestURL := fmt.Sprintf("%s/api/v1/repos/%s/issues?state=open&type=issues",
		p.config.BaseURL, repo)
	if _, err := url.Parse(requestURL); err != nil {
		return nil, fmt.Errorf("forgejo: bad repo URL for %q: %w", repo, err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("forgejo: creating request: %w", err)
	}
	if p.config.Token != "" {
		request.Header.Set("Authorization", "token "+p.config.Token)
	}

	response, err := p.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("forgejo: fetching issues for %s: %w", repo, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("forgejo: reading response: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("forgejo: %s returned %d: %s", repo, response.StatusCode, body)
	}

	var issues []issue
	if err := json.Unmarshal(body, &issues); err != nil {
		return nil, fmt.Errorf("forgejo: parsing issues for %s: %w", repo, err)
	}
	return issues, nil
}

func (p *poller) announce(ctx context.Context, repo string, item issue) {
	markdown := fmt.Sprintf("New issue in **%s**: [#%d %s](%s) by %s",
		repo, item.Number, item.Title, item.HTMLURL, item.User.Login)
	content, err := messaging.NewMarkdownMessage(markdown)
	if err != nil {
		p.env.Logger.Error("failed to render issue announcement", "error", err)
		return
	}

	for _, raw := range p.config.Rooms {
		roomID, err := ref.ParseRoomID(raw)
		if err != nil {
			p.env.Logger.Error("forgejo room is not a room ID", "room", raw, "error", err)
			continue
		}
		if _, err := p.env.Session.SendMessage(ctx, roomID, content); err != nil {
			p.env.Logger.Error("failed to announce issue", "room", raw, "error", err)
		}
	}
}

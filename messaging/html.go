// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// markdownInstance is initialized once and reused. The configuration
// (extensions, options) never changes and the goldmark parser is safe
// to share — parsing creates per-call state internally.
var (
	markdownInstance goldmark.Markdown
	markdownOnce     sync.Once
)

func markdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownInstance = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		)
	})
	return markdownInstance
}

// NewMarkdownMessage creates an m.text message whose HTML body is
// rendered from the markdown source. The markdown source itself is the
// plain-text fallback, which is what non-HTML Matrix clients display.
func NewMarkdownMessage(source string) (MessageContent, error) {
	var html bytes.Buffer
	if err := markdown().Convert([]byte(source), &html); err != nil {
		return MessageContent{}, fmt.Errorf("messaging: rendering markdown: %w", err)
	}
	return NewFormattedMessage(source, html.String()), nil
}

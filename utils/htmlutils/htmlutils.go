// Copyright 2025 The Hyperlapse Authors
// SPDX-License-Identifier: Apache-2.0

// Package htmlutils provides utility functions for working with HTML.
package htmlutils

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/unicode/norm"
)

// Node2string appends the text content of n to sb, separating text nodes with
// a single space. Block elements (div) also introduce a separator, which is how
// the directions API splits the main instruction from its notes.
func Node2string(n *html.Node, sb *strings.Builder) {
	if n.Type == html.TextNode {
		tmp := strings.Join(strings.Fields(n.Data), " ")
		if len(tmp) == 0 {
			return
		}

		if sb.Len() != 0 && needsSpace(sb.String(), tmp) {
			sb.WriteByte(' ')
		}

		sb.WriteString(tmp)

		return
	}

	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode && child.DataAtom == atom.Div && sb.Len() != 0 {
			if !strings.HasSuffix(sb.String(), ".") {
				sb.WriteByte('.')
			}

			sb.WriteByte(' ')
		}

		Node2string(child, sb)
	}
}

// Inline markup like "<b>Main St</b>," must not become "Main St ,".
func needsSpace(before, next string) bool {
	if strings.HasSuffix(before, " ") {
		return false
	}

	switch next[0] {
	case ',', '.', ';', ':', ')', '!', '?':
		return false
	}

	return true
}

// PlainText renders an HTML fragment, such as a route step instruction, as a
// single line of NFC normalized text.
func PlainText(fragment string) (string, error) {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		return "", fmt.Errorf("parsing HTML fragment: %w", err)
	}

	var sb strings.Builder

	root := &html.Node{Type: html.DocumentNode}
	for _, n := range nodes {
		root.AppendChild(n)
	}

	Node2string(root, &sb)

	return norm.NFC.String(sb.String()), nil
}

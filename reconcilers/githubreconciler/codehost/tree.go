/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package codehost

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/google/go-github/v84/github"
)

// DefaultTreeDepth is how many directory levels Tree descends.
const DefaultTreeDepth = 3

var ignoredDirs = []string{".git", "node_modules", "__pycache__", ".venv"}

// Tree renders the repository layout at ref as an indented listing of
// "📁 dir/" and "📄 file" lines, two spaces per level. Directories deeper
// than maxDepth, dependency caches, hidden files and compiled Python are
// left out. A subdirectory that cannot be listed is rendered as an error
// line in place of its contents.
func (c *Client) Tree(ctx context.Context, repo Repo, ref string, maxDepth int) (string, error) {
	lines, err := c.walk(ctx, repo, ref, "", 0, maxDepth)
	if err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

func (c *Client) walk(ctx context.Context, repo Repo, ref, dir string, level, maxDepth int) ([]string, error) {
	var opts *github.RepositoryContentGetOptions
	if ref != "" {
		opts = &github.RepositoryContentGetOptions{Ref: ref}
	}
	file, entries, _, err := c.gh.Repositories.GetContents(ctx, repo.Owner, repo.Name, dir, opts)
	if err != nil {
		return nil, apiError(fmt.Sprintf("listing %q in %s", dir, repo), err)
	}
	if file != nil {
		entries = []*github.RepositoryContent{file}
	}
	slices.SortFunc(entries, func(a, b *github.RepositoryContent) int {
		return strings.Compare(a.GetName(), b.GetName())
	})

	indent := strings.Repeat("  ", level)
	var out []string
	for _, e := range entries {
		name := e.GetName()
		if e.GetType() == "dir" {
			if level >= maxDepth || ignored(e.GetPath()) {
				continue
			}
			sub, err := c.walk(ctx, repo, ref, e.GetPath(), level+1, maxDepth)
			if err != nil {
				sub = []string{fmt.Sprintf("Error getting tree for %s: %v", e.GetPath(), err)}
			}
			if len(sub) == 0 {
				continue
			}
			out = append(out, indent+"📁 "+name+"/")
			out = append(out, sub...)
			continue
		}
		if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".pyc") || strings.HasSuffix(name, ".pyo") {
			continue
		}
		out = append(out, indent+"📄 "+name)
	}
	return out, nil
}

func ignored(p string) bool {
	for seg := range strings.SplitSeq(path.Clean(p), "/") {
		if slices.Contains(ignoredDirs, seg) {
			return true
		}
	}
	return false
}

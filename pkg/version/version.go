// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

// Release is a GitHub release as returned by the releases API.
type Release struct {
	ID          int64     `json:"id,omitempty"`
	NodeID      string    `json:"node_id,omitempty"`
	TagName     string    `json:"tag_name"`
	TargetCommitish string `json:"target_commitish,omitempty"`
	Name        *string   `json:"name,omitempty"`
	Body        *string   `json:"body,omitempty"`
	Draft       bool      `json:"draft,omitempty"`
	Prerelease  bool      `json:"prerelease,omitempty"`
	HTMLURL     string    `json:"html_url,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
	Assets      []Asset   `json:"assets,omitempty"`
}

// Asset is a downloadable artifact attached to a release.
type Asset struct {
	ID                 int64     `json:"id,omitempty"`
	Name               string    `json:"name,omitempty"`
	Label              *string   `json:"label,omitempty"`
	ContentType        string    `json:"content_type,omitempty"`
	State              string    `json:"state,omitempty"`
	Size               int64     `json:"size,omitempty"`
	DownloadCount      int64     `json:"download_count,omitempty"`
	BrowserDownloadURL string    `json:"browser_download_url,omitempty"`
	CreatedAt          time.Time `json:"created_at,omitempty"`
	UpdatedAt          time.Time `json:"updated_at,omitempty"`
}

// Checker fetches the latest GitHub release for a repository and compares
// it against a running version.
type Checker struct {
	Owner     string
	Repo      string
	UserAgent string

	httpClient *http.Client
}

func NewChecker(owner, repo, userAgent string) *Checker {
	return &Checker{
		Owner:     owner,
		Repo:      repo,
		UserAgent: userAgent,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CheckNewVersion returns whether a newer release than version is available.
func (c *Checker) CheckNewVersion(ctx context.Context, version string) (bool, *Release, error) {
	if isDevelop(version) {
		return false, nil, nil
	}

	release, err := c.getLatestRelease(ctx)
	if err != nil {
		return false, nil, err
	}

	newer, _, err := c.compareVersions(version, release)
	if err != nil {
		return false, nil, err
	}
	if !newer {
		return false, nil, nil
	}

	return true, release, nil
}

func (c *Checker) getLatestRelease(ctx context.Context) (*Release, error) {
	url := fmt.Sprintf("https://api.github.com/repos/%s/%s/releases/latest", c.Owner, c.Repo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("could not build release request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not fetch latest release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching latest release for %s/%s", resp.StatusCode, c.Owner, c.Repo)
	}

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("could not decode release response: %w", err)
	}

	return &release, nil
}

// compareVersions reports whether release is newer than current. The parsed
// release version is returned for callers that want to log it.
func (c *Checker) compareVersions(current string, release *Release) (bool, *semver.Version, error) {
	currentVersion, err := semver.NewVersion(current)
	if err != nil {
		return false, nil, fmt.Errorf("could not parse current version %q: %w", current, err)
	}

	releaseVersion, err := semver.NewVersion(release.TagName)
	if err != nil {
		return false, nil, fmt.Errorf("could not parse release tag %q: %w", release.TagName, err)
	}

	return releaseVersion.GreaterThan(currentVersion), releaseVersion, nil
}

// isDevelop reports whether version looks like a development build rather
// than a tagged release. Development builds never trigger update checks.
func isDevelop(version string) bool {
	switch version {
	case "", "dev", "develop", "main", "latest":
		return true
	}

	if strings.HasPrefix(version, "pr-") {
		return true
	}

	for _, suffix := range []string{"-dev", "-develop"} {
		if strings.HasSuffix(version, suffix) {
			return true
		}
	}

	return false
}

// Package client holds outbound clients for collaborating services.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DirectoryClient resolves users from the directory service. Used by assignee
// resolution when a step template carries a role-based rule.
//
// When no directory is configured (empty base URL) lookups return an empty
// slice: assignments are created unassigned and can be claimed by any user
// holding the required role.
type DirectoryClient struct {
	baseURL string
	http    *http.Client
}

// NewDirectoryClient creates a client for the directory service. An empty
// baseURL yields a client whose lookups resolve to no users.
func NewDirectoryClient(baseURL string) *DirectoryClient {
	return &DirectoryClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

type directoryUser struct {
	ID string `json:"id"`
}

type usersResponse struct {
	Users []directoryUser `json:"users"`
}

// UsersWithRole returns the ids of users holding the given role, in the
// directory's preference order.
func (c *DirectoryClient) UsersWithRole(ctx context.Context, role string) ([]string, error) {
	if c.baseURL == "" {
		return nil, nil
	}

	endpoint := fmt.Sprintf("%s/api/v1/users?role=%s", c.baseURL, url.QueryEscape(role))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory returned status %d", resp.StatusCode)
	}

	var body usersResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode directory response: %w", err)
	}

	ids := make([]string, 0, len(body.Users))
	for _, u := range body.Users {
		ids = append(ids, u.ID)
	}
	return ids, nil
}

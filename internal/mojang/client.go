// Package mojang talks to the Mojang profile and session APIs to
// resolve player names to UUIDs and fetch skin textures.
package mojang

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mcadmin/mc-admin/pkg/errs"
)

const (
	ProfileAPIBase = "https://api.mojang.com"
	SessionAPIBase = "https://sessionserver.mojang.com"
)

// Client handles communication with the Mojang APIs
type Client struct {
	httpClient *http.Client
	profileURL string
	sessionURL string
}

// NewClient creates a Mojang API client against the public endpoints
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		profileURL: ProfileAPIBase,
		sessionURL: SessionAPIBase,
	}
}

// NewClientWithBases overrides the endpoints, used by tests
func NewClientWithBases(profileURL, sessionURL string) *Client {
	c := NewClient()
	c.profileURL = profileURL
	c.sessionURL = sessionURL
	return c
}

// Profile is the name-to-UUID binding from the profile API
type Profile struct {
	ID   string `json:"id"` // UUID, 32 hex chars without dashes
	Name string `json:"name"`
}

// LookupProfile resolves a player name to its current profile.
// A 404 (unknown name) and a 429 (rate limited) come back as distinct
// error kinds so callers can drop quietly.
func (c *Client) LookupProfile(name string) (*Profile, error) {
	url := fmt.Sprintf("%s/users/profiles/minecraft/%s", c.profileURL, name)
	resp, err := c.httpClient.Get(url)
	if err != nil {
		return nil, errs.External(err, "profile lookup for %s failed", name)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusNoContent:
		return nil, errs.NotFound("no profile for player name %s", name)
	case http.StatusTooManyRequests:
		return nil, errs.External(nil, "profile API rate limited for %s", name)
	default:
		return nil, errs.External(nil, "profile API returned status %d for %s", resp.StatusCode, name)
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, errs.External(err, "failed to decode profile for %s", name)
	}
	profile.ID = strings.ReplaceAll(profile.ID, "-", "")
	return &profile, nil
}

// sessionProfile is the session server's profile document. The textures
// property value is base64-encoded JSON.
type sessionProfile struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Properties []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"properties"`
}

// texturesPayload is the decoded textures property
type texturesPayload struct {
	Textures struct {
		Skin struct {
			URL string `json:"url"`
		} `json:"SKIN"`
	} `json:"textures"`
}

// SkinURL fetches the session profile for a UUID and extracts the skin
// texture URL. Players without a custom skin return NotFound.
func (c *Client) SkinURL(uuid string) (string, error) {
	url := fmt.Sprintf("%s/session/minecraft/profile/%s", c.sessionURL, uuid)
	resp, err := c.httpClient.Get(url)
	if err != nil {
		return "", errs.External(err, "session profile for %s failed", uuid)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusNoContent:
		return "", errs.NotFound("no session profile for uuid %s", uuid)
	case http.StatusTooManyRequests:
		return "", errs.External(nil, "session API rate limited for %s", uuid)
	default:
		return "", errs.External(nil, "session API returned status %d for %s", resp.StatusCode, uuid)
	}

	var profile sessionProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return "", errs.External(err, "failed to decode session profile for %s", uuid)
	}

	for _, property := range profile.Properties {
		if property.Name != "textures" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(property.Value)
		if err != nil {
			return "", errs.External(err, "invalid textures property for %s", uuid)
		}
		var payload texturesPayload
		if err := json.Unmarshal(decoded, &payload); err != nil {
			return "", errs.External(err, "invalid textures payload for %s", uuid)
		}
		if payload.Textures.Skin.URL == "" {
			return "", errs.NotFound("uuid %s has no custom skin", uuid)
		}
		return payload.Textures.Skin.URL, nil
	}
	return "", errs.NotFound("uuid %s has no textures property", uuid)
}

// DownloadSkin fetches the skin PNG bytes from a texture URL
func (c *Client) DownloadSkin(url string) ([]byte, error) {
	resp, err := c.httpClient.Get(url)
	if err != nil {
		return nil, errs.External(err, "skin download failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.External(nil, "skin download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errs.External(err, "skin download read failed")
	}
	return data, nil
}

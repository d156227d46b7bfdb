// Package rcon wraps the Source RCON protocol client and the parsing of
// Minecraft's `list` command output.
package rcon

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorcon/rcon"
)

// Client is an authenticated RCON connection. Safe for concurrent use;
// commands are serialized on the single underlying connection.
type Client struct {
	conn *rcon.Conn
	mu   sync.Mutex
}

// Dial connects and authenticates against an RCON endpoint
func Dial(addr, password string) (*Client, error) {
	conn, err := rcon.Dial(addr, password,
		rcon.SetDialTimeout(5*time.Second),
		rcon.SetDeadline(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("rcon dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Command executes one command and returns the raw response
func (c *Client) Command(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Execute(cmd)
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

// StripANSI removes terminal escape sequences from command output. The
// in-container rcon-cli colorizes responses.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

var listPattern = regexp.MustCompile(`(?i)there are (\d+)(?: of a max)? of (\d+) players online:?\s*(.*)`)

// ListResult is the parsed output of the `list` command
type ListResult struct {
	Online  int
	Max     int
	Players []string
}

// ParseList parses the canonical `list` response:
//
//	There are 2 of a max of 20 players online: Alice, Bob
func ParseList(response string) (*ListResult, error) {
	match := listPattern.FindStringSubmatch(StripANSI(response))
	if match == nil {
		return nil, fmt.Errorf("unrecognized list response: %q", strings.TrimSpace(response))
	}

	online, _ := strconv.Atoi(match[1])
	max, _ := strconv.Atoi(match[2])

	result := &ListResult{Online: online, Max: max}
	for _, name := range strings.Split(match[3], ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			result.Players = append(result.Players, name)
		}
	}
	return result, nil
}

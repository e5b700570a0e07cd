package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dkeye/peercall/internal/core"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "Show active rooms on the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		summary, err := fetchRooms(ctx, v.GetString("server"))
		if err != nil {
			return err
		}
		fmt.Println(roomsTable(summary))
		return nil
	},
}

// httpBase maps a signaling URL onto the server's HTTP origin.
func httpBase(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "http":
		u.Scheme = "http"
	case "wss", "https":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("invalid server URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawQuery = ""
	return u.String(), nil
}

// roomSummary mirrors GET /api/rooms. Rooms stays nil unless the server
// has room listing enabled.
type roomSummary struct {
	RoomCount   int             `json:"room_count"`
	MemberCount int             `json:"member_count"`
	Rooms       []core.RoomInfo `json:"rooms"`
}

func fetchRooms(ctx context.Context, server string) (roomSummary, error) {
	var body roomSummary
	base, err := httpBase(server)
	if err != nil {
		return body, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/rooms", nil)
	if err != nil {
		return body, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return body, fmt.Errorf("list rooms: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return body, fmt.Errorf("list rooms: unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return body, fmt.Errorf("decode rooms: %w", err)
	}
	return body, nil
}

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/dkeye/peercall/internal/client"
	"github.com/dkeye/peercall/internal/domain"
	"github.com/dkeye/peercall/internal/peer"
)

var (
	primary = lipgloss.Color("#22d3ee")
	success = lipgloss.Color("#10B981")
	warning = lipgloss.Color("#F59E0B")
	danger  = lipgloss.Color("#EF4444")
	muted   = lipgloss.Color("#6B7280")
)

var (
	peerStyle    = lipgloss.NewStyle().Bold(true).Foreground(primary)
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(success)
	warningStyle = lipgloss.NewStyle().Foreground(warning)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(danger)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
)

func printError(msg string)   { fmt.Println(errorStyle.Render("✗ " + msg)) }
func printSuccess(msg string) { fmt.Println(successStyle.Render("✓") + " " + msg) }
func printInfo(msg string)    { fmt.Println(mutedStyle.Render("• " + msg)) }

func printEvents(events <-chan client.Event, stop <-chan struct{}) {
	for {
		select {
		case ev := <-events:
			if line := renderEvent(ev); line != "" {
				fmt.Println(line)
			}
		case <-stop:
			return
		}
	}
}

func peerLabel(id domain.MemberID, name string) string {
	if name == "" {
		return peerStyle.Render(string(id))
	}
	return peerStyle.Render(name) + mutedStyle.Render(" ("+string(id)+")")
}

func renderEvent(ev client.Event) string {
	switch ev.Type {
	case client.EventJoined:
		return successStyle.Render("✓") + " joined as " + peerLabel(ev.Peer, ev.Name)
	case client.EventPeerJoined:
		return "→ " + peerLabel(ev.Peer, ev.Name) + " joined"
	case client.EventPeerLeft:
		return "← " + peerLabel(ev.Peer, ev.Name) + " left"
	case client.EventTrackAdded:
		return mutedStyle.Render(fmt.Sprintf("  + %s track %s from %s", ev.Kind, ev.TrackID, ev.Peer))
	case client.EventTrackRemoved:
		return mutedStyle.Render(fmt.Sprintf("  - track %s from %s", ev.TrackID, ev.Peer))
	case client.EventSessionState:
		return renderState(ev)
	case client.EventEncryptionChanged:
		if ev.Active {
			return successStyle.Render("🔒 encryption on")
		}
		return warningStyle.Render("🔓 encryption off")
	case client.EventChat:
		if ev.Chat == nil {
			return ""
		}
		return peerLabel(ev.Peer, ev.Name) + ": " + ev.Chat.Text
	case client.EventError:
		return errorStyle.Render("✗ " + errString(ev.Err))
	}
	return ""
}

func renderState(ev client.Event) string {
	label := peerLabel(ev.Peer, "")
	switch ev.State {
	case peer.StateConnected:
		return successStyle.Render("⇄") + " " + label + " connected"
	case peer.StateFailed:
		return warningStyle.Render("! "+errString(ev.Err)) + " " + label
	case peer.StateClosed:
		if ev.Err != nil {
			return errorStyle.Render("✗ gave up on ") + label + ": " + ev.Err.Error()
		}
		return mutedStyle.Render("  session closed ") + label
	default:
		return mutedStyle.Render(fmt.Sprintf("  %s %s", ev.Peer, ev.State))
	}
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

func peersTable(peers []client.PeerInfo) string {
	if len(peers) == 0 {
		return mutedStyle.Render("No peers")
	}
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "Name", "State", "Receiving", "Sending"})
	for _, p := range peers {
		t.AppendRow(table.Row{p.Member.ID, p.Member.Username, p.State.String(), p.Receiving, len(p.Advertised)})
	}
	return t.Render()
}

func roomsTable(summary roomSummary) string {
	rooms := summary.Rooms
	if summary.RoomCount == 0 && len(rooms) == 0 {
		return mutedStyle.Render("No active rooms")
	}
	if rooms == nil {
		return mutedStyle.Render(fmt.Sprintf("%d active rooms, %d members (names hidden by server)", summary.RoomCount, summary.MemberCount))
	}
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Room", "Members"})
	total := 0
	for _, r := range rooms {
		t.AppendRow(table.Row{r.Name, r.MemberCount})
		total += r.MemberCount
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d rooms", len(rooms)), total})
	return strings.TrimRight(t.Render(), "\n")
}

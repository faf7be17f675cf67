package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	prettytable "github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/avanishpal143/meetify/internal/room"
)

// MemberRow is one line of the call's member table.
type MemberRow struct {
	Name   string
	State  string
	Source string
	Tracks string
	Self   bool
}

// MembersView renders the room members using lipgloss/table.
func MembersView(rows []MemberRow) string {
	if len(rows) == 0 {
		return MutedStyle.Render("Nobody here yet")
	}

	data := make([][]string, 0, len(rows))
	for _, r := range rows {
		name := truncate(r.Name, 24)
		if r.Self {
			name += " (you)"
		}
		data = append(data, []string{name, r.State, r.Source, r.Tracks})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Member", "Link", "Sending", "Receiving").
		Rows(data...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

// RoomInfoView is the box shown once a room is created or joined.
func RoomInfoView(roomID, link string, created bool) string {
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(Success).
		Padding(0, 2)

	title := "Joined room"
	if created {
		title = "Room created"
	}
	content := fmt.Sprintf("%s %s\n\n%s Room ID:    %s\n%s Room Link:  %s",
		IconSuccess, title,
		IconCopy, BoldStyle.Foreground(Primary).Render(roomID),
		IconLink, MutedStyle.Render(link),
	)
	return boxStyle.Render(content)
}

// RenderRooms writes the room listing with go-pretty.
func RenderRooms(w io.Writer, rooms []room.Summary, now time.Time) {
	fmt.Fprintln(w, TitleStyle.Render(IconRoom+" Open rooms"))

	t := prettytable.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(prettytable.StyleRounded)
	t.AppendHeader(prettytable.Row{"#", "Room", "Members", "Open for"})
	for i, r := range rooms {
		t.AppendRow(prettytable.Row{i + 1, r.ID, r.Members, now.Sub(r.CreatedAt).Truncate(time.Second).String()})
	}
	t.AppendFooter(prettytable.Row{"", "Total", len(rooms), ""})
	t.SetColumnConfigs([]prettytable.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
	})
	t.Render()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

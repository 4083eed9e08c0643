package client

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/lcnr/docker-queue/internal/models"
)

var headerStyle = lipgloss.NewStyle().Bold(true)

var tableHeaders = []string{"id", "image", "command", "created", "names", "status"}

const columnPad = 2

// containerRow flattens either variant of models.Container into columns.
func containerRow(c models.Container) []string {
	if s, ok := c.Running(); ok {
		created := "-"
		if s.Created > 0 {
			created = time.Unix(s.Created, 0).Format(time.DateTime)
		}
		names := "-"
		if len(s.Names) > 0 {
			trimmed := make([]string, len(s.Names))
			for i, n := range s.Names {
				trimmed[i] = strings.TrimPrefix(n, "/")
			}
			names = strings.Join(trimmed, ",")
		}
		return []string{
			orDash(models.RunningContainerID(s.ID).Short()),
			orDash(s.Image),
			orDash(s.Command),
			created,
			names,
			"Running",
		}
	}
	if req, ok := c.Queued(); ok {
		created := "-"
		if !req.QueuedAt.IsZero() {
			created = req.QueuedAt.Local().Format(time.DateTime)
		}
		return []string{req.ID, "-", req.Command, created, "-", req.Status.String()}
	}
	return []string{"-", "-", "-", "-", "-", "-"}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// WriteContainerTable prints containers as left aligned padded columns with a bold header.
func WriteContainerTable(w io.Writer, containers []models.Container) error {
	rows := make([][]string, 0, len(containers))
	for _, c := range containers {
		rows = append(rows, containerRow(c))
	}

	widths := make([]int, len(tableHeaders))
	for i, h := range tableHeaders {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	if _, err := fmt.Fprintln(w, headerStyle.Render(joinPadded(tableHeaders, widths))); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(w, joinPadded(row, widths)); err != nil {
			return err
		}
	}
	return nil
}

func joinPadded(cells []string, widths []int) string {
	var b strings.Builder
	for i, cell := range cells {
		b.WriteString(cell)
		if i < len(cells)-1 {
			b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)+columnPad))
		}
	}
	return b.String()
}

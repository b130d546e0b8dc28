package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"rotations/internal/screen"
)

var (
	colorPrimary = lipgloss.Color("#7D56F4")
	colorSubtle  = lipgloss.Color("#626262")
	colorActive  = lipgloss.Color("#04B575")
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List screens and their rotations",
	Long:  `Connect to the display, enumerate every screen and print its capabilities and current orientation.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := start(nil)
		if err != nil {
			return err
		}
		defer r.Close()

		screens, err := r.settled(waitTimeout())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderScreens(screens))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func renderScreens(screens []screen.State) string {
	if len(screens) == 0 {
		return lipgloss.NewStyle().Foreground(colorSubtle).Render("No screens found")
	}

	rows := make([][]string, 0, len(screens))
	for _, s := range screens {
		active := s.Active.String()
		if s.Phase != screen.Ready {
			active = s.Phase.String()
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", s.Index+1),
			fmt.Sprintf("0x%x", uint32(s.Root)),
			strings.Join(s.Outputs, ", "),
			s.Capabilities.String(),
			active,
			fmt.Sprintf("%d", s.ConfigTimestamp),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorSubtle)).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return lipgloss.NewStyle().Foreground(colorPrimary).Bold(true).Padding(0, 1)
			case col == 4:
				return lipgloss.NewStyle().Foreground(colorActive).Bold(true).Padding(0, 1)
			default:
				return lipgloss.NewStyle().Padding(0, 1)
			}
		}).
		Headers("SCREEN", "ROOT", "OUTPUTS", "ROTATIONS", "ACTIVE", "CONFIG TIME").
		Rows(rows...)

	return t.String()
}

package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ericksa/docchat/internal/analysis"
	"github.com/ericksa/docchat/internal/session"
)

func (a *app) greetingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "greeting",
		Short: "Print the gateway's time-of-day greeting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.client.Greeting(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(map[string]string{"greeting": g}, func() { a.printf("%s\n", g) })
		},
	}
}

func (a *app) newCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Start a new session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := a.client.CreateSession(cmd.Context())
			if err != nil {
				return fmt.Errorf("create session: %w", err)
			}
			return a.print(snap, func() { a.printf("%s\n", snap.ID) })
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently active first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := a.client.ListSessions(cmd.Context())
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			return a.print(ids, func() {
				if len(ids) == 0 {
					a.printf("No sessions.\n")
					return
				}
				for _, id := range ids {
					a.printf("%s\n", id)
				}
			})
		},
	}
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session>",
		Short: "Show the conversation of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := a.client.Session(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(snap, func() { a.printSnapshot(snap) })
		},
	}
}

func (a *app) sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <session> <message...>",
		Short: "Send a message and print the agent's reply",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := a.client.SendMessage(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return a.print(snap, func() { a.printLastReply(snap) })
		},
	}
}

func (a *app) followUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "followup <session> [question]",
		Short: "Ask a suggested follow-up question",
		Long: `Ask one of the follow-up questions suggested by the analysis. Without a
question the suggestions are listed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				an, err := a.client.Analysis(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.print(an.State.FollowUps, func() {
					if len(an.State.FollowUps) == 0 {
						a.printf("No suggested questions yet.\n")
					}
					for i, q := range an.State.FollowUps {
						a.printf("%d. %s\n", i+1, q)
					}
				})
			}
			snap, err := a.client.FollowUp(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return a.print(snap, func() { a.printLastReply(snap) })
		},
	}
}

func (a *app) uploadCmd() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "upload <session> <file>",
		Short: "Upload a document for analysis",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()

			snap, err := a.client.Upload(cmd.Context(), args[0], filepath.Base(args[1]), f)
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}
			if !wait {
				return a.print(snap, func() { a.printf("%s: %s\n", filepath.Base(args[1]), snap.Analysis.Status) })
			}

			an, err := a.client.WaitForAnalysis(cmd.Context(), args[0], 500*time.Millisecond)
			if err != nil {
				return err
			}
			return a.print(an, func() { a.printAnalysis(an.State, an.View, an.Risk, an.ErrorText) })
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait for the analysis to finish and print it")
	return cmd
}

func (a *app) analysisCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analysis <session>",
		Short: "Show the analysis state and results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			an, err := a.client.Analysis(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(an, func() { a.printAnalysis(an.State, an.View, an.Risk, an.ErrorText) })
		},
	}
}

func (a *app) noticesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notices <session>",
		Short: "Print and clear pending notices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			notices, err := a.client.Notices(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(notices, func() {
				for _, n := range notices {
					a.printNotice(n)
				}
			})
		},
	}
}

func (a *app) toggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "toggle <session> <left|right|comparison>",
		Short:     "Toggle a layout panel",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{session.PanelLeft, session.PanelRight, session.PanelComparison},
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, err := a.client.TogglePanel(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return a.print(layout, func() {
				a.printf("left collapsed: %t\nright expanded: %t\ncomparison: %t\n",
					layout.LeftPanelCollapsed, layout.RightPanelExpanded, layout.ShowComparison)
			})
		},
	}
}

func (a *app) resetCmd() *cobra.Command {
	var analysisOnly bool
	cmd := &cobra.Command{
		Use:   "reset <session>",
		Short: "Start the conversation over",
		Long: `Start the conversation over.

With --analysis only the document analysis is discarded, so a new document
can be uploaded while the conversation is kept.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if analysisOnly {
				snap, err := a.client.ResetAnalysis(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.print(snap, func() { a.printf("Analysis reset.\n") })
			}
			snap, err := a.client.Reset(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(snap, func() { a.printf("Conversation reset.\n") })
		},
	}
	cmd.Flags().BoolVar(&analysisOnly, "analysis", false, "reset only the document analysis")
	return cmd
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.DeleteSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.printf("Deleted %s\n", args[0])
			return nil
		},
	}
}

func (a *app) downloadCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "download <session>",
		Short: "Download the uploaded document of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" || output == "-" {
				return a.client.Download(cmd.Context(), args[0], a.out)
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			if err := a.client.Download(cmd.Context(), args[0], f); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write (default stdout)")
	return cmd
}

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <session>",
		Short: "Follow the events of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.client.Watch(cmd.Context(), args[0],
				func(snap session.Snapshot) {
					if !a.jsonOutput() {
						a.printSnapshot(&snap)
					}
				},
				func(e session.Event) error {
					return a.print(e, func() { a.printEvent(e) })
				})
		},
	}
}

func (a *app) printSnapshot(snap *session.Snapshot) {
	a.printf("Session %s (analysis: %s)\n", snap.ID, snap.Analysis.Status)
	for _, m := range snap.Messages {
		a.printMessage(m)
	}
	if snap.PendingNotices > 0 {
		a.printf("%d pending notice(s)\n", snap.PendingNotices)
	}
}

func (a *app) printLastReply(snap *session.Snapshot) {
	if n := len(snap.Messages); n > 0 {
		a.printf("%s\n", snap.Messages[n-1].Content)
	}
}

func (a *app) printMessage(m session.Message) {
	a.printf("[%s %s] %s\n", m.Role, humanize.Time(m.Timestamp), m.Content)
}

func (a *app) printNotice(n session.Notice) {
	marker := "*"
	if n.Variant == session.VariantDestructive {
		marker = "!"
	}
	a.printf("%s %s: %s\n", marker, n.Title, n.Description)
}

func (a *app) printEvent(e session.Event) {
	switch e.Type {
	case session.EventMessage:
		a.printMessage(*e.Message)
	case session.EventNotice:
		a.printNotice(*e.Notice)
	case session.EventState:
		view := analysis.Project(*e.State)
		line := string(e.State.Status)
		if view.ShowProgress {
			last := e.State.ThinkingSteps[len(e.State.ThinkingSteps)-1]
			line += ": " + last.Title
		}
		a.printf("~ %s\n", line)
	case session.EventReset:
		a.printf("~ conversation reset\n")
	case session.EventLayout:
		// layout changes only matter to graphical clients
	}
}

func (a *app) printAnalysis(s analysis.State, view analysis.View, risk *analysis.RiskSummary, errText string) {
	a.printf("%s\n", view.Title)
	if s.File != nil {
		a.printf("File: %s (%s)\n", s.File.Name, humanize.Bytes(uint64(s.File.Size)))
	}
	switch s.Status {
	case analysis.StatusError:
		a.printf("Error: %s\n", errText)
		return
	case analysis.StatusComplete:
	default:
		for _, step := range s.ThinkingSteps {
			a.printf("  [%s] %s\n", step.Status, step.Title)
		}
		return
	}

	r := s.Result
	if r == nil {
		return
	}
	if risk != nil {
		a.printf("Risk: %s (%d high-risk clauses, %d suggested revisions)\n", risk.Level, risk.HighRiskClauses, risk.SuggestedRevisions)
	}
	if len(r.Parties) > 0 {
		a.printf("Parties: %s\n", strings.Join(r.Parties, ", "))
	}
	if r.Value != nil {
		a.printf("Value: %s %s\n", humanize.CommafWithDigits(*r.Value, 2), r.Currency)
	}
	for _, d := range r.KeyDates {
		a.printf("%s: %s\n", d.Description, d.Date.Format("January 2, 2006"))
	}
	for i, c := range r.Clauses {
		a.printf("  %d. %s (page %d, %s risk)\n", i+1, c.Title, c.Page, analysis.ClauseRisk(i))
	}
	if r.Summary != "" {
		a.printf("\n%s\n", r.Summary)
	}
}

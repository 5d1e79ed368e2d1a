package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/implflow/internal/prompt"
	"github.com/fyrsmithlabs/implflow/internal/workflow"
)

func init() {
	rootCmd.AddCommand(beginCmd, respondCmd, resumeCmd, reviseCmd, abandonCmd, statusCmd, listCmd, runCmd)

	respondCmd.Flags().String("gate", "", "gate to answer (plan-approval or commit-approval); defaults to the pending gate")
	statusCmd.Flags().Bool("watch", false, "refresh until the session stops running")
	statusCmd.Flags().Duration("interval", 2*time.Second, "refresh interval for --watch")
	listCmd.Flags().String("task", "", "only sessions for this work item")
	listCmd.Flags().String("status", "", "only sessions with this status")
	listCmd.Flags().Int("limit", 20, "maximum sessions to list")
	runCmd.Flags().String("session", "", "continue an existing session instead of starting one")
}

var beginCmd = &cobra.Command{
	Use:   "begin <work-item>",
	Short: "Start a session and run it to the first gate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc workflow.Service) error {
			sess, err := svc.Begin(ctx, workflow.TaskRef(args[0]))
			if err != nil {
				return err
			}
			return printSession(cmd.OutOrStdout(), sess)
		})
	},
}

var respondCmd = &cobra.Command{
	Use:   "respond <session> [yes|no]",
	Short: "Answer the pending confirmation gate",
	Long: `Answer the pending confirmation gate of a session.

Without an answer the gate question is shown and answered interactively.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		gate, _ := cmd.Flags().GetString("gate")
		return withService(cmd, func(ctx context.Context, svc workflow.Service) error {
			var answer workflow.Answer
			if len(args) == 2 {
				parsed, err := workflow.ParseAnswer(args[1])
				if err != nil {
					return err
				}
				answer = parsed
			} else {
				sess, err := svc.Get(ctx, args[0])
				if err != nil {
					return err
				}
				g := sess.PendingGate()
				if g == nil {
					return workflow.ErrGateNotPending
				}
				if err := printSession(cmd.OutOrStdout(), sess); err != nil {
					return err
				}
				answer, err = prompt.Confirm(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), g.Question)
				if err != nil {
					return err
				}
			}

			sess, err := svc.Respond(ctx, args[0], workflow.GateID(gate), answer)
			if err != nil {
				return err
			}
			return printSession(cmd.OutOrStdout(), sess)
		})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <session>",
	Short: "Resume a failed phase or continue after external edits",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc workflow.Service) error {
			sess, err := svc.Resume(ctx, args[0])
			if err != nil {
				return err
			}
			return printSession(cmd.OutOrStdout(), sess)
		})
	},
}

var reviseCmd = &cobra.Command{
	Use:   "revise <session> [notes...]",
	Short: "Replace a pending or denied plan",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc workflow.Service) error {
			notes := strings.Join(args[1:], " ")
			if strings.TrimSpace(notes) == "" {
				var err error
				notes, err = prompt.AskNotes(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
				if err != nil {
					return err
				}
			}
			sess, err := svc.Revise(ctx, args[0], notes)
			if err != nil {
				return err
			}
			return printSession(cmd.OutOrStdout(), sess)
		})
	},
}

var abandonCmd = &cobra.Command{
	Use:   "abandon <session>",
	Short: "Abandon a session without committing or posting anything further",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc workflow.Service) error {
			sess, err := svc.Abandon(ctx, args[0])
			if err != nil {
				return err
			}
			return printSession(cmd.OutOrStdout(), sess)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <session>",
	Short: "Show a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")
		interval, _ := cmd.Flags().GetDuration("interval")
		return withService(cmd, func(ctx context.Context, svc workflow.Service) error {
			if watch && !jsonOutput {
				_, err := prompt.Watch(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), func(ctx context.Context) (*workflow.Session, error) {
					return svc.Get(ctx, args[0])
				}, interval)
				return err
			}
			sess, err := svc.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return printSession(cmd.OutOrStdout(), sess)
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		task, _ := cmd.Flags().GetString("task")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		return withService(cmd, func(ctx context.Context, svc workflow.Service) error {
			sessions, err := svc.List(ctx, workflow.ListFilter{
				Task:   workflow.TaskRef(task),
				Status: workflow.Status(status),
				Limit:  limit,
			})
			if err != nil {
				return err
			}
			return printList(cmd.OutOrStdout(), sessions)
		})
	},
}

var runCmd = &cobra.Command{
	Use:   "run [work-item]",
	Short: "Run a session interactively, answering gates as they come",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		existing, _ := cmd.Flags().GetString("session")
		if (existing == "") == (len(args) == 0) {
			return fmt.Errorf("pass either a work item or --session")
		}
		return withService(cmd, func(ctx context.Context, svc workflow.Service) error {
			var sess *workflow.Session
			var err error
			if existing != "" {
				sess, err = svc.Get(ctx, existing)
			} else {
				sess, err = svc.Begin(ctx, workflow.TaskRef(args[0]))
			}
			if err != nil {
				return err
			}
			return drive(ctx, svc, sess, cmd.InOrStdin(), cmd.OutOrStdout())
		})
	},
}

// drive prompts for whatever the session waits on until it is done or the
// user stops answering.
func drive(ctx context.Context, svc workflow.Service, sess *workflow.Session, in io.Reader, out io.Writer) error {
	for {
		if err := printSession(out, sess); err != nil {
			return err
		}
		if sess.Done() {
			return nil
		}

		next, err := step(ctx, svc, sess, in, out)
		if errors.Is(err, prompt.ErrAborted) || (err == nil && next == nil) {
			fmt.Fprintf(out, "\nSession %s is waiting. Continue later with `implflow run --session %s`.\n", sess.ID, sess.ID)
			return nil
		}
		if err != nil {
			return err
		}
		sess = next
	}
}

// step answers one suspension point. A nil session means the user chose
// to stop.
func step(ctx context.Context, svc workflow.Service, sess *workflow.Session, in io.Reader, out io.Writer) (*workflow.Session, error) {
	switch sess.Await {
	case workflow.AwaitAnswer:
		g := sess.PendingGate()
		if g == nil {
			return nil, workflow.ErrGateNotPending
		}
		answer, err := prompt.Confirm(ctx, in, out, g.Question)
		if err != nil {
			return nil, err
		}
		return svc.Respond(ctx, sess.ID, g.ID, answer)

	case workflow.AwaitResume:
		answer, err := prompt.Confirm(ctx, in, out, "Resume now?")
		if err != nil || answer == workflow.AnswerNo {
			return nil, err
		}
		return svc.Resume(ctx, sess.ID)

	case workflow.AwaitRevise:
		notes, err := prompt.AskNotes(ctx, in, out)
		if err != nil {
			return nil, err
		}
		return svc.Revise(ctx, sess.ID, notes)

	default:
		// Still running on a worker.
		return prompt.Watch(ctx, in, out, func(ctx context.Context) (*workflow.Session, error) {
			return svc.Get(ctx, sess.ID)
		}, 2*time.Second)
	}
}

func printSession(w io.Writer, sess *workflow.Session) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(sess)
	}
	_, err := fmt.Fprintln(w, prompt.RenderSession(sess))
	return err
}

func printList(w io.Writer, sessions []*workflow.Session) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(sessions)
	}
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, "No sessions found.")
		return err
	}
	for _, s := range sessions {
		if _, err := fmt.Fprintf(w, "%-36s  %-8s  %-20s  %-20s  %s\n",
			s.ID, s.Task, s.Status, s.Phase, s.UpdatedAt.Format(time.RFC3339)); err != nil {
			return err
		}
	}
	return nil
}

// withService runs fn against the configured session service.
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc workflow.Service) error) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		svc, err := a.service(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, svc)
	})
}

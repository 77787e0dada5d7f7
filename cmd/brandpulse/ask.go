package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hrygo/brandpulse/plugin/ai/agent"
	"github.com/hrygo/brandpulse/server"
)

func newAskCmd() *cobra.Command {
	var sessionID string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask the agent one question from the terminal",
		Example: `  brandpulse ask "Which Adidas product sold the most?"
  brandpulse ask -v "Jelaskan trend penjualan Adidas di 2024 setiap kuartalnya"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProfile(true)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			st, err := openStore(ctx, p)
			if err != nil {
				return errors.Wrap(err, "failed to open analytics store")
			}
			s, err := server.NewServer(ctx, p, st)
			if err != nil {
				st.Close()
				return err
			}
			defer s.Shutdown(ctx)

			question := strings.Join(args, " ")
			start := time.Now()
			out := cmd.OutOrStdout()
			var failed bool
			err = s.Runtime.NewAgent(sessionID).Run(ctx, question, func(ev agent.StreamEvent) error {
				if ev.Kind == agent.EventError {
					failed = true
				}
				printEvent(out, ev, verbose)
				return nil
			})
			if err != nil {
				return err
			}
			if failed {
				return errors.New("agent run failed")
			}
			if verbose {
				fmt.Fprintf(out, "\n[%s]\n", time.Since(start).Round(time.Millisecond))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "cli", "session id, reuse it to ask follow-up questions")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print tool calls")
	return cmd
}

func printEvent(w io.Writer, ev agent.StreamEvent, verbose bool) {
	switch ev.Kind {
	case agent.EventContent:
		fmt.Fprint(w, ev.Text)
	case agent.EventToolStart:
		if verbose {
			fmt.Fprintf(w, "  [%s] %s\n", ev.Tool, ev.Status)
			if ev.Input != "" {
				fmt.Fprintf(w, "    input: %s\n", ev.Input)
			}
		}
	case agent.EventToolEnd:
		if verbose {
			fmt.Fprintf(w, "  [%s] %s\n", ev.Tool, ev.Status)
		}
	case agent.EventError:
		fmt.Fprintf(w, "\nerror: %s\n", ev.Err)
	case agent.EventDone:
		fmt.Fprintln(w)
	}
}

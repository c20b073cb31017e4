package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/portfolio-chat/internal/pipeline"
	"github.com/sells-group/portfolio-chat/internal/store"
)

var (
	chatAgent   string
	chatMessage string
	chatSession string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Send one message to an agent as its owner",
	Long:  "Runs a single chat turn through the full pipeline, authenticated as the agent's owner, and prints the reply. --agent accepts an agent id or a portfolio handle.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx, "chat")
		if err != nil {
			return err
		}
		defer env.Close()

		in, err := chatInput(ctx, env.Store, chatAgent)
		if err != nil {
			return err
		}
		in.Message = chatMessage
		in.SessionID = chatSession
		in.CallerIP = "cli"

		res, err := env.Pipeline.HandlePublicChat(ctx, in)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, res.Reply)
		fmt.Fprintf(out, "\nsession: %s  lead: %t\n", res.SessionID, res.LeadDetected)
		return nil
	},
}

// chatInput addresses ref as an agent id first and falls back to a
// portfolio handle. The returned input carries the owner as the caller.
func chatInput(ctx context.Context, dir store.Directory, ref string) (pipeline.Input, error) {
	agent, err := dir.GetAgent(ctx, ref)
	if err == nil {
		return pipeline.Input{AgentID: agent.ID, CallerUserID: agent.OwnerID}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return pipeline.Input{}, eris.Wrap(err, "look up agent")
	}

	p, err := dir.GetPortfolioByHandle(ctx, ref)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return pipeline.Input{}, eris.Errorf("no agent or portfolio matches %q", ref)
		}
		return pipeline.Input{}, eris.Wrap(err, "look up portfolio")
	}
	return pipeline.Input{Handle: p.Handle, CallerUserID: p.OwnerID}, nil
}

func init() {
	chatCmd.Flags().StringVar(&chatAgent, "agent", "", "agent id or portfolio handle")
	chatCmd.Flags().StringVar(&chatMessage, "message", "", "message to send")
	chatCmd.Flags().StringVar(&chatSession, "session", "", "continue an existing session")
	_ = chatCmd.MarkFlagRequired("agent")
	_ = chatCmd.MarkFlagRequired("message")
	rootCmd.AddCommand(chatCmd)
}

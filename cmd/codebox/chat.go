package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"codebox-relay/internal/chat"
	"codebox-relay/internal/config"
	"codebox-relay/internal/toolcall"
	"codebox-relay/internal/tools"
)

// newChatProcessor wires the model session, the tool registry and the
// persisted history. The returned func saves the history.
func newChatProcessor(ctx context.Context, cfg *config.Config) (*chat.Processor, func(), error) {
	reg := toolcall.NewRegistry(toolcall.Mode(cfg.Tools.ExecutionMode))
	if _, err := tools.RegisterAll(reg, cfg.Tools); err != nil {
		return nil, nil, err
	}
	hist, err := chat.LoadHistory(cfg.Chat.HistoryFile)
	if err != nil {
		return nil, nil, err
	}
	sess, err := chat.NewSession(ctx, cfg.Chat, chat.SystemPrompt(cfg.Chat.SystemPrompt, reg), hist.Entries())
	if err != nil {
		return nil, nil, err
	}
	save := func() {
		if err := hist.Save(); err != nil {
			log.Printf("save history: %v", err)
		}
	}
	return &chat.Processor{Session: sess, Registry: reg, History: hist}, save, nil
}

func newChatCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the AI code box on the console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			proc, save, err := newChatProcessor(ctx, cfg)
			if err != nil {
				return err
			}
			defer save()

			// clear starts a new model session with no prior turns.
			reset := func() error {
				sess, err := chat.NewSession(ctx, cfg.Chat, chat.SystemPrompt(cfg.Chat.SystemPrompt, proc.Registry), nil)
				if err != nil {
					return err
				}
				proc.Session = sess
				return nil
			}

			interactive := term.IsTerminal(int(os.Stdin.Fd()))
			return chatLoop(ctx, proc, os.Stdin, cmd.OutOrStdout(), interactive, save, reset)
		},
	}
}

func chatLoop(ctx context.Context, proc *chat.Processor, in io.Reader, out io.Writer, interactive bool, save func(), reset func() error) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for {
		if interactive {
			fmt.Fprint(out, "you> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		switch text {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "clear":
			if proc.History != nil {
				proc.History.Clear()
				save()
			}
			if err := reset(); err != nil {
				fmt.Fprintf(out, "error: history cleared but the session was kept: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "history cleared, new session started")
			continue
		}

		for _, ev := range proc.Ask(ctx, text) {
			printEvent(out, ev)
		}
		save()
		if ctx.Err() != nil {
			return nil
		}
	}
}

func printEvent(out io.Writer, ev chat.Event) {
	switch ev.Kind {
	case chat.EventText:
		fmt.Fprintf(out, "ai> %s\n", ev.Text)
	case chat.EventToolResult:
		fmt.Fprintf(out, "[%s %s]\n%s\n", ev.Tool, ev.Code, ev.Text)
	case chat.EventFollowup:
		fmt.Fprintf(out, "ai> %s\n", ev.Text)
	case chat.EventError:
		fmt.Fprintf(out, "error: %s\n", ev.Text)
	}
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"taskline/internal/app"
	"taskline/internal/engine"
)

var (
	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#1D4ED8", Dark: "#60A5FA"})
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"})
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"})
)

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive session with request history",
		Long: "Reads requests that may span several lines. A blank line, a trailing ';' or a line reading done, end or submit sends the request.\n" +
			"/history lists earlier requests, /clear forgets them, /quit leaves.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return runChat(ctx, a, os.Stdin, os.Stdout, term.IsTerminal(int(os.Stdin.Fd())))
			})
		},
	}
}

func runChat(ctx context.Context, a *app.App, in io.Reader, out io.Writer, interactive bool) error {
	actor := viper.GetString("actor-id")
	ctx = engine.WithActor(ctx, actor)
	conv := a.Conversations.For(actor)

	var renderer *glamour.TermRenderer
	if interactive {
		renderer, _ = glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(80),
		)
		fmt.Fprintln(out, mutedStyle.Render("taskline chat, /quit to leave"))
	}

	scanner := bufio.NewScanner(in)
	for {
		if interactive {
			fmt.Fprint(out, promptStyle.Render("> "))
		}
		line, more := readRequest(scanner, func() {
			if interactive {
				fmt.Fprint(out, mutedStyle.Render(". "))
			}
		})
		if ctx.Err() != nil {
			return nil
		}
		switch line {
		case "":
			if !more {
				return scanner.Err()
			}
			continue
		case "/quit", "/exit":
			return nil
		case "/clear":
			conv.Clear()
			fmt.Fprintln(out, mutedStyle.Render("history cleared"))
			continue
		case "/history":
			entries := conv.Entries()
			if len(entries) == 0 {
				fmt.Fprintln(out, mutedStyle.Render("no requests yet"))
			}
			for i, e := range entries {
				fmt.Fprintf(out, "%d. %s %s\n", i+1, e.UserInput, mutedStyle.Render("("+string(e.Intent)+")"))
			}
			continue
		}

		res := a.Engine.Process(ctx, conv, line)
		text := res.Response
		if renderer != nil {
			if rendered, err := renderer.Render(text); err == nil {
				text = strings.TrimRight(rendered, "\n")
			}
		}
		if !res.Success && interactive {
			fmt.Fprintln(out, failStyle.Render("✗ "+string(res.Intent)))
		}
		fmt.Fprintln(out, text)
	}
}

var submitWords = map[string]bool{"done": true, "end": true, "submit": true}

// readRequest collects lines until a blank line, a line ending in ';' or a
// submit word. A slash command on the first line is returned on its own.
// more is false once the input is exhausted.
func readRequest(scanner *bufio.Scanner, prompt func()) (request string, more bool) {
	var lines []string
	for {
		if len(lines) > 0 {
			prompt()
		}
		if !scanner.Scan() {
			return strings.Join(lines, "\n"), false
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			if len(lines) > 0 {
				return strings.Join(lines, "\n"), true
			}
			continue
		case len(lines) == 0 && strings.HasPrefix(line, "/"):
			return line, true
		case submitWords[strings.ToLower(line)]:
			return strings.Join(lines, "\n"), true
		case strings.HasSuffix(line, ";"):
			if line = strings.TrimSpace(strings.TrimSuffix(line, ";")); line != "" {
				lines = append(lines, line)
			}
			return strings.Join(lines, "\n"), true
		}
		lines = append(lines, line)
	}
}

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mikeboe/research-chat/pkg/app"
	"github.com/mikeboe/research-chat/pkg/chat"
)

const helpText = `Commands:
  /new             start a new thread
  /threads         list threads
  /switch <n>      switch to thread n
  /delete [n]      delete thread n (default: the active one)
  /deep on|off     toggle multi-query deep research
  /attach <path>   attach a document (.txt, .md, .pdf, .html) or table (.csv, .xlsx)
  /detach          drop the active thread's attachments
  /export <path>   write the active thread as Markdown
  /help            show this help
  /quit            exit`

func newChatCmd() *cobra.Command {
	var deep, raw bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			kb, err := app.OpenKnowledge(ctx, cfg)
			if err != nil {
				return err
			}
			if kb != nil {
				defer kb.Close()
			}

			svc, err := app.NewChatService(ctx, cfg, kb)
			if err != nil {
				return err
			}

			r := &repl{
				svc:  svc,
				sess: chat.NewSession(),
				out:  cmd.OutOrStdout(),
				deep: deep,
			}
			if !raw {
				r.render = markdownRenderer(100)
			}
			return r.run(ctx, cmd.InOrStdin())
		},
	}
	cmd.Flags().BoolVar(&deep, "deep", false, "start with deep research enabled")
	cmd.Flags().BoolVar(&raw, "raw", false, "stream raw text instead of rendering Markdown")
	return cmd
}

var errQuit = errors.New("quit")

type repl struct {
	svc  *chat.Service
	sess *chat.Session
	out  io.Writer
	deep bool
	// render formats a finished answer. When nil, chunks are printed as they
	// arrive.
	render func(string) string
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(r.out, titleStyle.Render("research-chat")+"  "+statusStyle.Render("type /help for commands"))

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(r.out, "\n"+r.prompt())
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		err := r.handle(ctx, line)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintln(r.out, errorStyle.Render("error: "+err.Error()))
		}
	}
}

func (r *repl) prompt() string {
	p := "you"
	if r.deep {
		p += " (deep)"
	}
	return promptStyle.Render(p + " › ")
}

func (r *repl) handle(ctx context.Context, line string) error {
	if !strings.HasPrefix(line, "/") {
		return r.ask(ctx, line)
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return errQuit
	case "/help":
		fmt.Fprintln(r.out, helpText)
	case "/new":
		r.sess.NewThread()
		fmt.Fprintln(r.out, statusStyle.Render("started a new thread"))
	case "/threads":
		fmt.Fprintln(r.out, renderThreads(r.sess.Threads()))
	case "/switch":
		t, err := r.threadAt(arg)
		if err != nil {
			return err
		}
		if err := r.sess.Switch(t.ID); err != nil {
			return err
		}
		fmt.Fprintln(r.out, statusStyle.Render("switched to "+t.Title))
	case "/delete":
		id := r.sess.ActiveID()
		if arg != "" {
			t, err := r.threadAt(arg)
			if err != nil {
				return err
			}
			id = t.ID
		}
		if err := r.sess.Delete(id); err != nil {
			return err
		}
		fmt.Fprintln(r.out, statusStyle.Render("thread deleted"))
	case "/deep":
		switch strings.ToLower(arg) {
		case "on", "":
			r.deep = true
		case "off":
			r.deep = false
		default:
			return fmt.Errorf("usage: /deep on|off")
		}
		fmt.Fprintln(r.out, statusStyle.Render(fmt.Sprintf("deep research: %v", r.deep)))
	case "/attach":
		return r.attach(ctx, arg)
	case "/detach":
		r.sess.ClearAttachments()
		fmt.Fprintln(r.out, statusStyle.Render("attachments removed"))
	case "/export":
		return r.export(arg)
	default:
		return fmt.Errorf("unknown command %s (try /help)", cmd)
	}
	return nil
}

func (r *repl) threadAt(arg string) (chat.ThreadSummary, error) {
	threads := r.sess.Threads()
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(threads) {
		return chat.ThreadSummary{}, fmt.Errorf("no thread %q; see /threads", arg)
	}
	return threads[n-1], nil
}

func (r *repl) attach(ctx context.Context, path string) error {
	if path == "" {
		return fmt.Errorf("usage: /attach <path>")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	att, err := r.svc.Attach(ctx, r.sess, filepath.Base(path), data)
	if err != nil {
		return err
	}
	if att.Table != nil {
		fmt.Fprintln(r.out, statusStyle.Render(fmt.Sprintf("attached table %s: %d rows, columns %s", att.Name, len(att.Table.Rows), strings.Join(att.Table.Columns, ", "))))
	} else {
		fmt.Fprintln(r.out, statusStyle.Render(fmt.Sprintf("attached document %s (%d characters)", att.Name, len([]rune(att.Document)))))
	}
	return nil
}

func (r *repl) export(path string) error {
	if path == "" {
		return fmt.Errorf("usage: /export <path>")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := chat.ExportMarkdown(f, r.sess.Active()); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintln(r.out, statusStyle.Render("exported to "+path))
	return nil
}

// ask runs one turn. Ctrl-C cancels the turn, not the program.
func (r *repl) ask(ctx context.Context, text string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	next, err := r.svc.SendMessage(ctx, r.sess, chat.TurnRequest{Text: text, Deep: r.deep})
	if err != nil {
		return err
	}

	fmt.Fprintln(r.out)
	streaming := false
	for event, err := range next {
		if err != nil {
			return err
		}
		switch event.Type {
		case chat.EventStatus:
			if line := renderStatus(event.Payload.(chat.Status)); line != "" && !streaming {
				fmt.Fprintln(r.out, line)
			}
		case chat.EventContent:
			if r.render == nil {
				streaming = true
				fmt.Fprint(r.out, event.Payload.(string))
			}
		case chat.EventError:
			fmt.Fprintln(r.out, errorStyle.Render(fmt.Sprint(event.Payload)))
		case chat.EventDone:
			msg := event.Payload.(chat.Message)
			if r.render != nil {
				fmt.Fprint(r.out, r.render(msg.Content))
			} else {
				fmt.Fprintln(r.out)
			}
			if a := renderAnalysis(msg.Analysis); a != "" {
				fmt.Fprintln(r.out, a)
			}
			if s := renderSources(msg); s != "" {
				fmt.Fprintln(r.out, s)
			}
		}
	}
	return nil
}

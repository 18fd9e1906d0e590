package main

import (
	"fmt"
	"io"

	"github.com/MegaGrindStone/chatstream/internal/models"
	"github.com/MegaGrindStone/chatstream/internal/store"
)

// replyPrinter writes the growing assistant reply to w as it streams. It only prints the part of the reply
// that is new since the previous snapshot.
type replyPrinter struct {
	w       io.Writer
	printed int
	waiting bool
}

func (p *replyPrinter) observe(snap store.Snapshot) {
	switch snap.Flags.Phase {
	case models.PhaseStreamingFirstFragment:
		if !p.waiting {
			p.waiting = true
			fmt.Fprint(p.w, "assistant: ")
		}
	case models.PhaseStreamingAccumulating:
		if len(snap.Messages) == 0 {
			return
		}
		last := snap.Messages[len(snap.Messages)-1]
		if last.Role != models.RoleAssistant || len(last.Content) <= p.printed {
			return
		}
		fmt.Fprint(p.w, last.Content[p.printed:])
		p.printed = len(last.Content)
	}
}

// finish terminates the reply line, if one was started.
func (p *replyPrinter) finish() {
	if p.waiting {
		fmt.Fprintln(p.w)
	}
}

func printTranscript(w io.Writer, chat models.Chat, messages []models.Message) {
	title := chat.Title
	if title == "" {
		title = "(untitled)"
	}
	fmt.Fprintf(w, "# %s\n\n", title)
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}
		fmt.Fprintf(w, "%s: %s\n", msg.Role, msg.Content)
	}
}

func printChats(w io.Writer, chats []models.Chat) {
	if len(chats) == 0 {
		fmt.Fprintln(w, "No chats yet.")
		return
	}
	for _, c := range chats {
		title := c.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.ID, c.UpdatedAt.Local().Format("2006-01-02 15:04"), title)
	}
}

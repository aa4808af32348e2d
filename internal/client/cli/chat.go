package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/securechat-dev/securechat/internal/client/models"
	"github.com/securechat-dev/securechat/internal/client/services"
)

func (a *App) chatService() *services.ChatService {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chat
}

// listUsers fetches the directory and prints it with selection indexes.
func (a *App) listUsers(ctx context.Context) error {
	chat := a.chatService()
	if chat == nil {
		return nil
	}

	users, err := chat.Users(ctx)
	if err != nil {
		fmt.Println("Cannot list users:", err)
		return err
	}

	a.mu.Lock()
	a.users = users
	a.mu.Unlock()

	if len(users) == 0 {
		fmt.Println("No other users registered yet")
		return nil
	}
	for i, u := range users {
		keyState := "no key published"
		if len(u.PublicKey) > 0 {
			keyState = "key published"
		}
		fmt.Printf("%d. %s (%s)\n", i+1, u.Username, keyState)
	}
	return nil
}

// selectPeer resolves the argument (index from the last listing, or a raw
// user id) and opens that conversation, printing its history.
func (a *App) selectPeer(ctx context.Context, arg string) error {
	chat := a.chatService()
	if chat == nil {
		return nil
	}

	peerID := arg
	if n, err := strconv.Atoi(arg); err == nil {
		a.mu.Lock()
		if n >= 1 && n <= len(a.users) {
			peerID = a.users[n-1].ID
		}
		a.mu.Unlock()
	}
	if peerID == "" {
		fmt.Println("Usage: select <number|user-id>")
		return nil
	}

	history, err := chat.SelectPeer(ctx, peerID)
	if err != nil {
		fmt.Println("Cannot open conversation:", err)
		return err
	}

	fmt.Printf("Conversation with %s (%d messages)\n", peerID, len(history))
	a.printMessages(history)
	return nil
}

// say encrypts and sends text to the active peer.
func (a *App) say(ctx context.Context, text string) error {
	chat := a.chatService()
	if chat == nil {
		return nil
	}
	if text == "" {
		fmt.Println("Usage: say <message>")
		return nil
	}

	if _, err := chat.Send(ctx, text); err != nil {
		// The message stays in the local cache either way.
		fmt.Println("Send failed (kept locally):", err)
		return err
	}
	return nil
}

// history reprints the active conversation from the cache.
func (a *App) history(ctx context.Context) error {
	chat := a.chatService()
	if chat == nil {
		return nil
	}

	peerID := chat.ActivePeer()
	if peerID == "" {
		fmt.Println("No conversation selected")
		return nil
	}
	a.printMessages(chat.Snapshot(peerID))
	return nil
}

// toggleAnonymous flips anonymous mode: no history fetch, no server-side
// storage of outbound messages.
func (a *App) toggleAnonymous(ctx context.Context) error {
	chat := a.chatService()
	if chat == nil {
		return nil
	}

	chat.SetAnonymous(!chat.Anonymous())
	if chat.Anonymous() {
		fmt.Println("Anonymous mode on")
	} else {
		fmt.Println("Anonymous mode off")
	}
	return nil
}

func (a *App) printMessages(msgs []models.Message) {
	a.mu.Lock()
	localID := a.userID
	a.mu.Unlock()

	for _, m := range msgs {
		who := m.SenderID
		if m.SenderID == localID {
			who = "me"
		}
		fmt.Printf("[%s] %s: %s\n", m.Timestamp.Local().Format("15:04:05"), who, m.Text)
	}
}

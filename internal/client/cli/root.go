package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

func (a *App) getStatus() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.userName
	if a.chat != nil {
		if a.chat.Anonymous() {
			s = s + " anon"
		}
		if peer := a.chat.ActivePeer(); peer != "" {
			s = s + " @" + peer
		}
	}
	if s != "" {
		s = fmt.Sprintf("(%s)", s)
	}
	return s
}

func (a *App) Root(ctx context.Context) {

	fmt.Println("Welcome to SecureChat CLI (type 'help' for commands)")
	scanner := bufio.NewScanner(os.Stdin)

	a.Login(ctx)

	for {
		fmt.Printf("sc %s> ", a.getStatus())
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		cmd := parts[0]
		args := parts[1:]

		if !a.isLoggedIn() {
			switch cmd {
			case "help":
				fmt.Println("Available commands: register, login, exit")
			case "register":
				a.Register(ctx)
			case "login":
				a.Login(ctx)
			case "exit", "quit":
				fmt.Println("Bye!")
				return
			default:
				fmt.Println("Unknown command:", cmd)
			}
			continue
		}

		switch cmd {
		case "help":
			fmt.Println("Available commands: users, select <n>, say <text>, history, anon, logout, exit")
		case "users":
			a.listUsers(ctx)
		case "select":
			if len(args) == 0 {
				fmt.Println("Usage: select <number|user-id>")
				continue
			}
			a.selectPeer(ctx, args[0])
		case "say", "send":
			rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), cmd))
			a.say(ctx, rest)
		case "history":
			a.history(ctx)
		case "anon":
			a.toggleAnonymous(ctx)
		case "logout":
			a.Logout(ctx)
		case "exit", "quit":
			fmt.Println("Bye!")
			return
		default:
			fmt.Println("Unknown command:", cmd)
		}
	}

}

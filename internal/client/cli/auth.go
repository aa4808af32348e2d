package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/securechat-dev/securechat/internal/common"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// Register prompts for a username and password and creates the account.
func (a *App) Register(ctx context.Context) error {
	userName, err := getSimpleText(a.reader, "Enter username", os.Stdout)
	if err != nil {
		return err
	}

	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	if err := a.auth.Register(ctx, userName, string(password)); err != nil {
		fmt.Println("Registration failed:", err)
		return err
	}

	fmt.Println("Registration successful, please login")
	return nil
}

// Login prompts for credentials, authenticates, unlocks the keystore and
// starts the session (delivery channel + refresh loop).
//
// Every credential failure prints the same generic message: whether the
// account exists must not be observable from the login flow.
func (a *App) Login(ctx context.Context) error {
	userName, err := getSimpleText(a.reader, "Enter username", os.Stdout)
	if err != nil {
		return err
	}

	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	auth, err := a.auth.Login(ctx, userName, password)
	if err != nil {
		if errors.Is(err, common.ErrInvalidCredential) {
			fmt.Println("Cannot sign in")
		} else {
			fmt.Println("Login failed:", err)
		}
		return err
	}

	if err := a.startSession(ctx, auth); err != nil {
		fmt.Println("Connecting failed:", err)
		return err
	}

	fmt.Printf("Logged in as %s\n", auth.Username)
	return nil
}

// Logout tears the session down and wipes the unlocked key material.
func (a *App) Logout(ctx context.Context) error {
	a.teardownSession(ctx)
	a.auth.Logout(ctx)
	_ = a.repos.Metadata.Delete(ctx, metadataKeyUsername)
	_ = a.repos.Metadata.Delete(ctx, metadataKeyUserID)
	fmt.Println("Logged out")
	return nil
}

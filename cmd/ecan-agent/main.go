// ecan-agent is the command-line companion to the Ecan desktop shell. It
// exercises the identity core directly: sign in (password or Google),
// restore, sign out, and move files through brokered cloud storage.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/ecan-labs/ecan/internal/app"
	"github.com/ecan-labs/ecan/internal/common"
	"github.com/ecan-labs/ecan/internal/models"
)

func usage() {
	fmt.Fprintf(os.Stderr, `ecan-agent %s

Usage:
  ecan-agent login <username> [role]     Sign in with username/password
  ecan-agent google-login [role]         Sign in with Google
  ecan-agent signup <username>           Create an account
  ecan-agent forgot <username>           Start a password reset
  ecan-agent confirm <username> <code>   Complete a password reset
  ecan-agent status                      Show session state
  ecan-agent whoami                      Print the signed-in principal
  ecan-agent logout                      Sign out and clear stored session
  ecan-agent upload <file> <key>         Upload a file to cloud storage
  ecan-agent download <key> <file>       Download an object

Config is read from ECAN_CONFIG, ecan.toml beside the binary, or
config/ecan.toml, with ECAN_* environment overrides.
`, common.GetVersion())
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	a, err := app.NewApp(os.Getenv("ECAN_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	switch os.Args[1] {
	case "login":
		if len(os.Args) < 3 {
			usage()
		}
		role := "Platoon"
		if len(os.Args) > 3 {
			role = os.Args[3]
		}
		password, err := readPassword()
		if err != nil {
			fatal(err)
		}
		if err := a.Auth.Login(ctx, os.Args[2], password, role); err != nil {
			fatalAuth(err)
		}
		fmt.Printf("Signed in as %s\n", a.Auth.CurrentUser())

	case "google-login":
		role := "Platoon"
		if len(os.Args) > 2 {
			role = os.Args[2]
		}
		fmt.Println("Opening browser for Google sign-in...")
		if err := a.Auth.GoogleLogin(ctx, role); err != nil {
			fatalAuth(err)
		}
		fmt.Printf("Signed in as %s\n", a.Auth.CurrentUser())

	case "signup":
		if len(os.Args) < 3 {
			usage()
		}
		password, err := readPassword()
		if err != nil {
			fatal(err)
		}
		if err := a.Auth.SignUp(ctx, os.Args[2], password); err != nil {
			fatalAuth(err)
		}
		fmt.Println("Account created; check your email for the confirmation code")

	case "forgot":
		if len(os.Args) < 3 {
			usage()
		}
		if err := a.Auth.ForgotPassword(ctx, os.Args[2]); err != nil {
			fatalAuth(err)
		}
		fmt.Println("Reset code sent")

	case "confirm":
		if len(os.Args) < 4 {
			usage()
		}
		password, err := readPassword()
		if err != nil {
			fatal(err)
		}
		if err := a.Auth.ConfirmForgotPassword(ctx, os.Args[2], os.Args[3], password); err != nil {
			fatalAuth(err)
		}
		fmt.Println("Password updated")

	case "status":
		restoreCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		restored := a.RestoreSession(restoreCtx)
		cancel()
		if !restored {
			fmt.Println("Signed out")
			return
		}
		fmt.Printf("Signed in as %s (role %s)\n", a.Auth.CurrentUser(), a.Auth.Role())

	case "whoami":
		if !a.RestoreSession(ctx) {
			fatal(fmt.Errorf("not signed in"))
		}
		fmt.Println(a.Auth.CurrentUser())

	case "logout":
		a.RestoreSession(ctx)
		a.Auth.Logout(ctx)
		fmt.Println("Signed out")

	case "upload":
		if len(os.Args) < 4 {
			usage()
		}
		if !a.RestoreSession(ctx) {
			fatal(fmt.Errorf("not signed in"))
		}
		url, err := a.CloudStore.Upload(ctx, os.Args[2], os.Args[3], "", nil)
		if err != nil {
			fatal(err)
		}
		fmt.Println(url)

	case "download":
		if len(os.Args) < 4 {
			usage()
		}
		if !a.RestoreSession(ctx) {
			fatal(fmt.Errorf("not signed in"))
		}
		if err := a.CloudStore.Download(ctx, os.Args[2], os.Args[3]); err != nil {
			fatal(err)
		}
		fmt.Println("Done")

	default:
		usage()
	}
}

func readPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	if term.IsTerminal(int(syscall.Stdin)) {
		data, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		return string(data), err
	}
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	return strings.TrimSpace(line), err
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// fatalAuth renders the discriminated auth error kinds as user-facing
// messages, matching what the GUI shows for the same failures.
func fatalAuth(err error) {
	messages := map[models.AuthErrorKind]string{
		models.ErrKindInvalidCredentials: "Incorrect username or password.",
		models.ErrKindUserNotConfirmed:   "Your account is not confirmed yet. Check your email.",
		models.ErrKindTooManyRequests:    "Too many attempts. Please wait a moment and try again.",
		models.ErrKindNetwork:            "Could not reach the sign-in service. Check your connection.",
		models.ErrKindUserExists:         "An account with this email already exists.",
		models.ErrKindInvalidPassword:    "That password does not meet the requirements.",
		models.ErrKindUserNotFound:       "No account found for that email.",
		models.ErrKindCodeMismatch:       "That code is not correct.",
		models.ErrKindExpiredCode:        "That code has expired. Request a new one.",
		models.ErrKindStateMismatch:      "Sign-in was rejected for your safety. Please try again.",
		models.ErrKindTimeout:            "Sign-in timed out. Please try again.",
	}
	if msg, ok := messages[models.KindOf(err)]; ok {
		fmt.Fprintf(os.Stderr, "%s\n", msg)
	} else {
		fmt.Fprintf(os.Stderr, "Sign-in failed: %v\n", err)
	}
	os.Exit(1)
}

// vaultadm is the operator's companion tool: it generates encryption keys and
// resets operator passwords directly in the data file, for when the web UI is
// locked out.
package main

import (
	"fmt"
	"os"

	"github.com/dmitrijs2005/mailvault/internal/common"
	"github.com/dmitrijs2005/mailvault/internal/cryptox"
	"github.com/dmitrijs2005/mailvault/internal/server/models"
	"github.com/dmitrijs2005/mailvault/internal/server/storage"

	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

const usage = `Usage:
  vaultadm genkey
      Generate a random at-rest encryption key.

  vaultadm reset-password <data-file> <username>
      Set a new password for the user, forcing a change on next login.
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		fmt.Print(usage)
		return nil
	}

	switch args[0] {
	case "genkey":
		key, err := common.MakeRandHexString(32)
		if err != nil {
			return err
		}
		fmt.Println(key)
		return nil
	case "reset-password":
		if len(args) != 3 {
			return fmt.Errorf("reset-password needs a data file and a username")
		}
		return resetPassword(args[1], args[2])
	default:
		fmt.Print(usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func resetPassword(dataFile, username string) error {
	fmt.Print("New password: ")
	password, err := readPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return err
	}
	defer wipe(password)

	fmt.Print("Repeat password: ")
	repeat, err := readPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return err
	}
	defer wipe(repeat)

	if string(password) != string(repeat) {
		return fmt.Errorf("passwords do not match")
	}
	if len(password) < 6 {
		return fmt.Errorf("password must be at least 6 characters")
	}

	store := storage.New(dataFile)
	err = store.Mutate(func(doc *models.Document) error {
		u := doc.UserByName(username)
		if u == nil {
			return fmt.Errorf("user %q not found", username)
		}
		u.PasswordHash = cryptox.HashPassword(string(password))
		u.MustChangePassword = true
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("Password for %q reset, change required on next login.\n", username)
	return nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

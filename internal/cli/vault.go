// Package cli provides vault management commands.
package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jberon/kiln/internal/vault"
)

var (
	vaultRemoveForce bool
)

func init() {
	rootCmd.AddCommand(vaultCmd)
	vaultCmd.AddCommand(vaultInitCmd)
	vaultCmd.AddCommand(vaultSetCmd)
	vaultCmd.AddCommand(vaultGetCmd)
	vaultCmd.AddCommand(vaultListCmd)
	vaultCmd.AddCommand(vaultRemoveCmd)
	vaultCmd.AddCommand(vaultChangePasswordCmd)

	vaultRemoveCmd.Flags().BoolVar(&vaultRemoveForce, "force", false, "skip confirmation prompt")
}

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage the secret store",
	Long: `Manage the encrypted secret store for endpoint API keys.

Secrets live in a single password-protected file under the data
directory. Config values reference them as vault:NAME, e.g.

  llm:
    api_key_ref: vault:openai

Set KILN_VAULT_PASSWORD to skip the interactive password prompt.`,
}

var vaultInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the secret store",
	Long:  "Create an empty secret store protected by a password.",
	RunE: func(cmd *cobra.Command, args []string) error {
		v := openVault()
		if v.IsInitialized() {
			return vault.ErrAlreadyExists
		}

		password, err := vaultPassword("New vault password: ")
		if err != nil {
			return err
		}
		if password == "" {
			return fmt.Errorf("password must not be empty")
		}
		if os.Getenv("KILN_VAULT_PASSWORD") == "" {
			again, err := promptSecret("Confirm password: ")
			if err != nil {
				return err
			}
			if password != again {
				return fmt.Errorf("passwords do not match")
			}
		}

		if err := v.Initialize(password); err != nil {
			return err
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, map[string]string{
				"status": "initialized",
				"path":   vault.DefaultPath(appConfig.Global.DataDir),
			})
		}

		fmt.Printf("Vault created at %s\n", vault.DefaultPath(appConfig.Global.DataDir))
		return nil
	},
}

var vaultSetCmd = &cobra.Command{
	Use:   "set <name> [value]",
	Short: "Store a secret",
	Long:  "Store a secret under a name. Omit the value to enter it without echo.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		var value string
		if len(args) == 2 {
			value = args[1]
		} else {
			var err error
			value, err = promptSecret(fmt.Sprintf("Value for %s: ", name))
			if err != nil {
				return err
			}
		}
		if value == "" {
			return fmt.Errorf("secret value must not be empty")
		}

		v := openVault()
		if err := unlockVault(v); err != nil {
			return err
		}
		defer v.Lock()

		if err := v.Set(name, value); err != nil {
			return err
		}

		fmt.Printf("Stored %s\n", name)
		return nil
	},
}

var vaultGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Print a secret value",
	Long:  "Print a secret value to stdout, for use in scripts.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v := openVault()
		if err := unlockVault(v); err != nil {
			return err
		}
		defer v.Lock()

		secret, err := v.Get(args[0])
		if err != nil {
			return err
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, secret)
		}

		fmt.Println(secret.Value)
		return nil
	},
}

var vaultListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List stored secrets",
	RunE: func(cmd *cobra.Command, args []string) error {
		v := openVault()
		if err := unlockVault(v); err != nil {
			return err
		}
		defer v.Lock()

		names, err := v.Names()
		if err != nil {
			return err
		}

		entries := make([]VaultEntry, 0, len(names))
		for _, name := range names {
			secret, err := v.Get(name)
			if err != nil {
				return err
			}
			entries = append(entries, VaultEntry{
				Name:      secret.Name,
				CreatedAt: secret.CreatedAt,
				UpdatedAt: secret.UpdatedAt,
			})
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, entries)
		}

		if len(entries) == 0 {
			fmt.Println("No secrets stored.")
			return nil
		}

		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, []string{
				e.Name,
				e.CreatedAt.Local().Format("2006-01-02 15:04"),
				e.UpdatedAt.Local().Format("2006-01-02 15:04"),
			})
		}
		return writeTable(os.Stdout, []string{"NAME", "CREATED", "UPDATED"}, rows)
	},
}

// VaultEntry is a secret listing without the value.
type VaultEntry struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var vaultRemoveCmd = &cobra.Command{
	Use:     "rm <name>",
	Aliases: []string{"remove", "delete"},
	Short:   "Delete a secret",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		if !vaultRemoveForce && !confirm(fmt.Sprintf("Delete secret %q?", name)) {
			fmt.Println("Aborted.")
			return nil
		}

		v := openVault()
		if err := unlockVault(v); err != nil {
			return err
		}
		defer v.Lock()

		if err := v.Delete(name); err != nil {
			return err
		}

		fmt.Printf("Deleted %s\n", name)
		return nil
	},
}

var vaultChangePasswordCmd = &cobra.Command{
	Use:   "change-password",
	Short: "Change the vault password",
	Long:  "Re-encrypt the secret store under a new password.",
	RunE: func(cmd *cobra.Command, args []string) error {
		v := openVault()
		if !v.IsInitialized() {
			return vault.ErrNotInitialized
		}

		oldPassword, err := vaultPassword("Current vault password: ")
		if err != nil {
			return err
		}
		newPassword, err := promptSecret("New vault password: ")
		if err != nil {
			return err
		}
		if newPassword == "" {
			return fmt.Errorf("password must not be empty")
		}
		again, err := promptSecret("Confirm new password: ")
		if err != nil {
			return err
		}
		if newPassword != again {
			return fmt.Errorf("passwords do not match")
		}

		if err := v.Unlock(oldPassword); err != nil {
			return err
		}
		defer v.Lock()

		if err := v.ChangePassword(oldPassword, newPassword); err != nil {
			return err
		}

		fmt.Println("Password changed.")
		return nil
	},
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

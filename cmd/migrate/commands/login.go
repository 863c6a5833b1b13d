package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Verifies the stored Kartra cookies, asking for new ones when they are stale.",
	Run: func(cmd *cobra.Command, args []string) {
		session, err := openSession(cmd.Context(), true)
		if err != nil {
			fatal("failed to log in to kartra", err)
		}
		defer session.Close()

		fmt.Printf("authenticated, %d cookies stored in %s\n", len(session.Cookies()), cfg.Kartra.CookiesFile)
	},
}

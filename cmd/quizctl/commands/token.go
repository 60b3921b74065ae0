package commands

import (
	"fmt"

	"github.com/amrrdev/quizscan/internal/jwt"
	"github.com/spf13/cobra"
)

var tokenEmail string

var tokenCmd = &cobra.Command{
	Use:   "token <userId>",
	Short: "Mint an API access token signed with JWT_SECRET_KEY",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := jwt.NewService(cfg.Auth.JWTSecretKey, cfg.Auth.AccessTokenTTL).GenerateAccessToken(args[0], tokenEmail)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "email claim")
	rootCmd.AddCommand(tokenCmd)
}

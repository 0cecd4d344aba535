package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbourn/pdf-chat-backend/internal/auth"
	"github.com/tbourn/pdf-chat-backend/internal/config"
)

func newTokenCmd(cfg func() config.Config) *cobra.Command {
	var (
		id  auth.Identity
		ttl time.Duration
	)

	cmd := &cobra.Command{
		Use:     "token",
		Short:   "Print a signed bearer token for a user",
		Example: `  JWT_SECRET=s3cret pdfchat token --user u1 --email u1@example.com`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tok, err := auth.Issue(cfg().JWTSecret, id, ttl)
			if err != nil {
				return fmt.Errorf("token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&id.UserID, "user", "", "Subject (user id)")
	cmd.Flags().StringVar(&id.Email, "email", "", "Email claim")
	cmd.Flags().StringVar(&id.Role, "role", "user", "Role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}

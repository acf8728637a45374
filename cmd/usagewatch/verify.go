package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"usagewatch/internal/config"
	"usagewatch/internal/transport/telegram"
	logx "usagewatch/pkg/logx"
)

// verify checks the bot token against getMe and tries to discover a chat id
// from pending updates, so first-time setup never needs a third-party bot.
func newVerifyCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Validate the Telegram token and discover a chat id",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			mgr := config.NewManager(*cfgPath)
			cfg, err := mgr.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			adapter, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token}, logx.Nop())
			if err != nil {
				return fmt.Errorf("token check failed: %w", err)
			}
			fmt.Printf("token ok: @%s\n", adapter.BotUsername())

			if cfg.Telegram.ChatID != "" {
				fmt.Printf("chat_id configured: %s\n", cfg.Telegram.ChatID)
				return nil
			}

			chatID, err := adapter.DiscoverChatID(ctx)
			if err != nil {
				return err
			}
			if chatID == 0 {
				fmt.Println("no chat found yet: send the bot a message, then run verify again")
				return nil
			}
			fmt.Printf("discovered chat_id: %d (put it under telegram.chat_id)\n", chatID)
			return nil
		},
	}
}

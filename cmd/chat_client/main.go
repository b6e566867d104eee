package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"marketplace_chat/internal/chat/app"
	"marketplace_chat/internal/chat/domain"
	"marketplace_chat/internal/chat/repository"
	"marketplace_chat/pkg/config"
	"marketplace_chat/pkg/logger"
	"marketplace_chat/pkg/token"
)

// chat_client is an interactive terminal client used to exercise the
// gateway by hand. Commands:
//
//	list            print the conversation list
//	open <id>       open a conversation and print its history
//	close           close the open conversation
//	<text>          send text to the open conversation
//	quit            exit
func main() {
	logger.Log = logger.Initialize(config.EnvConfig.ChatClient, config.EnvConfig.ChatClientLogPath)
	cfg := config.LoadConfig[config.Client](config.EnvConfig.ChatClient, config.EnvConfig.ChatClientYAMLPath)

	self, credential := resolveIdentity()

	session := app.NewChatSession(app.SessionConfig{
		GatewayURL:           cfg.GatewayURL,
		Credentials:          credential,
		MaxReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:       cfg.ReconnectDelay,
		ReconnectDelayMax:    cfg.ReconnectDelayMax,
		ConnectTimeout:       cfg.ConnectTimeout,
	})
	defer session.Close()

	api := repository.NewConversationAPI(cfg.APIBaseURL, credential)
	sender := app.NewSendMessageUseCase(session, cfg.AckFallback)
	reconciler := app.NewCacheReconciler(session, sender, api, self)
	reconciler.Attach()
	defer reconciler.Detach()

	reconciler.OnTyping(func(conversationID int64, senderType domain.SenderType, typing bool) {
		if typing {
			fmt.Printf("[conversation %d] %s is typing...\n", conversationID, senderType)
		}
	})
	session.On(domain.EventNewMessage, "cli_printer", func(raw json.RawMessage) {
		ev, err := domain.DecodeMessageEvent(raw)
		if err != nil {
			return
		}
		if ev.Message.SenderID != self.UserID {
			fmt.Printf("[conversation %d] %s: %s\n", ev.ConversationID, ev.Message.SenderType, ev.Message.Content)
		}
	})

	ctx := context.Background()
	if _, err := session.Open(ctx); err != nil {
		log.Fatalf("Failed to reach gateway: %v", err)
	}
	fmt.Printf("connected to %s as user %d (%s)\n", cfg.GatewayURL, self.UserID, self.Role)

	var open int64
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "" || line == "quit":
			if line == "quit" {
				return
			}

		case line == "list":
			convs, err := reconciler.Conversations(ctx)
			if err != nil {
				fmt.Printf("list failed: %v\n", err)
				continue
			}
			for _, conv := range convs {
				fmt.Printf("#%d %s / %s  unread(c=%d p=%d)  %q\n",
					conv.ID, conv.Customer.Name, conv.Provider.Name,
					conv.UnreadByCustomer, conv.UnreadByProvider, conv.LastMessage)
			}

		case strings.HasPrefix(line, "open "):
			id, err := strconv.ParseInt(strings.TrimSpace(line[5:]), 10, 64)
			if err != nil || id <= 0 {
				fmt.Println("usage: open <conversation id>")
				continue
			}
			msgs, err := reconciler.OpenConversation(ctx, id)
			if err != nil {
				fmt.Printf("open failed: %v\n", err)
				continue
			}
			open = id
			for _, m := range msgs {
				fmt.Printf("  %s: %s\n", m.SenderType, m.Content)
			}

		case line == "close":
			reconciler.CloseConversation(ctx)
			open = 0

		default:
			if open == 0 {
				fmt.Println("open a conversation first")
				continue
			}
			if _, err := reconciler.Send(ctx, open, line); err != nil {
				fmt.Printf("send failed: %v\n", err)
			}
		}
	}
}

// resolveIdentity takes a ready token from CHAT_TOKEN, or mints one from
// CHAT_USER_ID / CHAT_ROLE / CHAT_NAME for local runs against a gateway
// sharing the same secret.
func resolveIdentity() (app.Identity, func() string) {
	if raw := os.Getenv("CHAT_TOKEN"); raw != "" {
		claims, err := token.ParseJWT(raw)
		if err != nil {
			log.Fatalf("CHAT_TOKEN is not valid: %v", err)
		}
		return app.Identity{
			UserID: claims.UserID,
			Role:   domain.SenderType(claims.Role),
		}, func() string { return raw }
	}

	userID, err := strconv.ParseInt(os.Getenv("CHAT_USER_ID"), 10, 64)
	if err != nil || userID <= 0 {
		log.Fatal("set CHAT_TOKEN, or CHAT_USER_ID with CHAT_ROLE/CHAT_NAME")
	}
	role := token.RoleType(os.Getenv("CHAT_ROLE"))
	if role != token.RoleCustomer && role != token.RoleProvider {
		role = token.RoleCustomer
	}
	name := os.Getenv("CHAT_NAME")
	if name == "" {
		name = fmt.Sprintf("user-%d", userID)
	}

	raw, err := token.GenerateJWT(userID, role, name, "chat_client")
	if err != nil {
		log.Fatalf("Failed to mint token: %v", err)
	}
	return app.Identity{
		UserID: userID,
		Role:   domain.SenderType(role),
	}, func() string { return raw }
}

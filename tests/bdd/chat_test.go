package bdd

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	chatapp "marketplace_chat/internal/chat/app"
	"marketplace_chat/internal/chat/domain"
	"marketplace_chat/internal/chat/repository"
	"marketplace_chat/internal/gateway"
	"marketplace_chat/pkg/logger"
	"marketplace_chat/pkg/token"

	"github.com/cucumber/godog"
	"github.com/gofiber/fiber/v2"
)

func TestMain(m *testing.M) {
	logger.SetNewNop()
	os.Exit(m.Run())
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"featureFiles"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}

// chatUser is one signed-in party with its own client stack.
type chatUser struct {
	id         int64
	role       token.RoleType
	credential string
	session    *chatapp.ChatSession
	reconciler *chatapp.CacheReconciler
	api        *repository.ConversationAPI
	inbox      chan domain.MessageEvent
}

// chatWorld is the per-scenario state.
type chatWorld struct {
	app    *fiber.App
	addr   string
	users  map[string]*chatUser
	convID int64
}

func (w *chatWorld) reset() {
	for _, u := range w.users {
		if u.reconciler != nil {
			u.reconciler.Detach()
		}
		if u.session != nil {
			_ = u.session.Close()
		}
	}
	if w.app != nil {
		_ = w.app.Shutdown()
	}
	w.app = nil
	w.users = make(map[string]*chatUser)
	w.convID = 0
}

func (w *chatWorld) user(name string) (*chatUser, error) {
	u, ok := w.users[name]
	if !ok {
		return nil, fmt.Errorf("unknown user %q", name)
	}
	return u, nil
}

func (w *chatWorld) aRunningChatGateway() error {
	store := gateway.NewStore()
	hub := gateway.NewHub()
	handler := gateway.NewWSHandler(store, hub, nil, nil)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	gateway.RegisterRoutes(context.Background(), app, store, handler)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	go func() { _ = app.Listener(ln) }()

	w.app = app
	w.addr = ln.Addr().String()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", w.addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Errorf("gateway never came up on %s", w.addr)
}

func (w *chatWorld) signIn(name string, userID int64, role token.RoleType) error {
	credential, err := token.GenerateJWT(userID, role, name, "bdd")
	if err != nil {
		return err
	}

	u := &chatUser{
		id:         userID,
		role:       role,
		credential: credential,
		inbox:      make(chan domain.MessageEvent, 8),
	}
	u.session = chatapp.NewChatSession(chatapp.SessionConfig{
		GatewayURL:     "ws://" + w.addr + "/ws",
		Credentials:    func() string { return credential },
		ConnectTimeout: 5 * time.Second,
	})
	u.api = repository.NewConversationAPI("http://"+w.addr, func() string { return credential })

	sender := chatapp.NewSendMessageUseCase(u.session, 2*time.Second)
	u.reconciler = chatapp.NewCacheReconciler(u.session, sender, u.api, chatapp.Identity{
		UserID: userID,
		Role:   domain.SenderType(role),
	})
	u.reconciler.Attach()

	u.session.On(domain.EventNewMessage, "bdd_inbox", func(raw json.RawMessage) {
		if ev, err := domain.DecodeMessageEvent(raw); err == nil {
			u.inbox <- ev
		}
	})

	w.users[name] = u
	return nil
}

func (w *chatWorld) isSignedInAsCustomer(name string, userID int) error {
	return w.signIn(name, int64(userID), token.RoleCustomer)
}

func (w *chatWorld) isSignedInAsProvider(name string, userID int) error {
	return w.signIn(name, int64(userID), token.RoleProvider)
}

func (w *chatWorld) aConversationExists(customerID, providerID int) error {
	for _, u := range w.users {
		if u.id != int64(customerID) && u.id != int64(providerID) {
			continue
		}
		conv, err := u.api.GetOrCreateConversation(context.Background(), int64(customerID), int64(providerID))
		if err != nil {
			return err
		}
		w.convID = conv.ID
		return nil
	}
	return fmt.Errorf("no signed-in participant for pair (%d, %d)", customerID, providerID)
}

func (w *chatWorld) opensTheConversation(name string) error {
	u, err := w.user(name)
	if err != nil {
		return err
	}
	_, err = u.reconciler.OpenConversation(context.Background(), w.convID)
	return err
}

func (w *chatWorld) closesTheConversation(name string) error {
	u, err := w.user(name)
	if err != nil {
		return err
	}
	u.reconciler.CloseConversation(context.Background())
	return nil
}

func (w *chatWorld) joinsTheConversationRoom(name string) error {
	u, err := w.user(name)
	if err != nil {
		return err
	}
	u.session.JoinRoom(context.Background(), w.convID)
	return nil
}

func (w *chatWorld) sendsMessage(name, content string) error {
	u, err := w.user(name)
	if err != nil {
		return err
	}
	_, err = u.reconciler.Send(context.Background(), w.convID, content)
	return err
}

func (w *chatWorld) shouldReceiveMessage(name, content string) error {
	u, err := w.user(name)
	if err != nil {
		return err
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-u.inbox:
			if ev.Message.Content == content && ev.Message.SenderID != u.id {
				return nil
			}
		case <-deadline:
			return fmt.Errorf("%s never received %q", name, content)
		}
	}
}

func (w *chatWorld) shouldSeeMessageCount(name string, count int) error {
	u, err := w.user(name)
	if err != nil {
		return err
	}

	var got int
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		msgs, err := u.reconciler.Messages(context.Background(), w.convID)
		if err == nil {
			got = len(msgs)
			if got == count {
				return nil
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("%s sees %d message(s), expected %d", name, got, count)
}

func (w *chatWorld) shouldSeeUnreadAsCustomer(name string, count int) error {
	u, err := w.user(name)
	if err != nil {
		return err
	}

	var got int
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		convs, err := u.reconciler.Conversations(context.Background())
		if err == nil {
			for _, conv := range convs {
				if conv.ID == w.convID {
					got = conv.UnreadByCustomer
					if got == count {
						return nil
					}
				}
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("%s sees unread %d, expected %d", name, got, count)
}

// InitializeScenario binds the step table.
func InitializeScenario(ctx *godog.ScenarioContext) {
	w := &chatWorld{users: make(map[string]*chatUser)}

	ctx.After(func(c context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		w.reset()
		return c, err
	})

	ctx.Step(`^a running chat gateway$`, w.aRunningChatGateway)
	ctx.Step(`^"([^"]*)" is signed in as customer (\d+)$`, w.isSignedInAsCustomer)
	ctx.Step(`^"([^"]*)" is signed in as provider (\d+)$`, w.isSignedInAsProvider)
	ctx.Step(`^a conversation exists between customer (\d+) and provider (\d+)$`, w.aConversationExists)
	ctx.Step(`^"([^"]*)" opens the conversation$`, w.opensTheConversation)
	ctx.Step(`^"([^"]*)" closes the conversation$`, w.closesTheConversation)
	ctx.Step(`^"([^"]*)" joins the conversation room$`, w.joinsTheConversationRoom)
	ctx.Step(`^"([^"]*)" sends "([^"]*)"$`, w.sendsMessage)
	ctx.Step(`^"([^"]*)" should receive "([^"]*)"$`, w.shouldReceiveMessage)
	ctx.Step(`^"([^"]*)" should see (\d+) message in the conversation$`, w.shouldSeeMessageCount)
	ctx.Step(`^"([^"]*)" should see an unread count of (\d+) as customer$`, w.shouldSeeUnreadAsCustomer)
}

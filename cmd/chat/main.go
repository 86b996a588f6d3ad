// Command chat is a terminal chat client. It connects the realtime session,
// seeds local state over HTTP and turns stdin lines into messages for the
// open conversation.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/GleciaGaba/GYMCOACH/pkg/chatlink"
	"github.com/GleciaGaba/GYMCOACH/pkg/wire"
)

type printer struct {
	chatlink.NopListener
	session *chatlink.Session
}

func (p *printer) OnMessage(env wire.Envelope) {
	if env.SenderID == p.session.Reconciler().Active() {
		fmt.Printf("[%s] %d: %s\n", env.Timestamp.Local().Format("15:04"), env.SenderID, env.Content)
		return
	}
	fmt.Printf("(new message from %d; /open %d to read)\n", env.SenderID, env.SenderID)
}

func (p *printer) OnTyping(userID int64, typing bool) {
	if typing && userID == p.session.Reconciler().Active() {
		fmt.Printf("(%d is typing...)\n", userID)
	}
}

func (p *printer) OnRead(messageID int64) {
	fmt.Printf("(read up to %d)\n", messageID)
}

func (p *printer) OnConnected() {
	fmt.Println("(connected)")
}

func (p *printer) OnDisconnected(err error) {
	if err != nil {
		fmt.Printf("(connection lost: %v)\n", err)
	}
}

func (p *printer) OnReconnecting(attempt int) {
	fmt.Printf("(reconnecting, attempt %d)\n", attempt)
}

func (p *printer) OnError(err error) {
	fmt.Printf("(error: %v)\n", err)
}

func main() {
	wsURL := flag.String("ws", "ws://localhost:8080/ws", "router WebSocket endpoint")
	apiURL := flag.String("api", "http://localhost:8080", "chat HTTP API base URL")
	token := flag.String("token", "", "bearer access token")
	userID := flag.Int64("user", 0, "authenticated user id")
	flag.Parse()

	if *token == "" || *userID <= 0 {
		fmt.Fprintln(os.Stderr, "both -token and -user are required")
		os.Exit(1)
	}

	session := chatlink.NewSession(chatlink.Config{
		URL:    *wsURL,
		Token:  *token,
		UserID: *userID,
		Logger: zap.NewNop(),
	})
	session.SetListener(&printer{session: session})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	err := session.Connect(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer session.Disconnect()

	rest := chatlink.NewRESTClient(*apiURL, *token)
	seedCtx, cancelSeed := context.WithTimeout(context.Background(), 15*time.Second)
	summaries, err := rest.Conversations(seedCtx)
	cancelSeed()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load conversations: %v\n", err)
	} else {
		session.Reconciler().Seed(summaries)
		for _, s := range summaries {
			fmt.Printf("  %d  %s  (%d unread)\n", s.OtherUserID, s.OtherUserName, s.UnreadCount)
		}
	}

	fmt.Println("commands: /open <userId>, /list, /quit; anything else is sent to the open conversation")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit":
			return
		case line == "/list":
			for _, s := range session.Reconciler().Conversations() {
				fmt.Printf("  %d  %s  (%d unread)\n", s.OtherUserID, s.OtherUserName, s.UnreadCount)
			}
		case strings.HasPrefix(line, "/open "):
			openConversation(session, rest, strings.TrimSpace(strings.TrimPrefix(line, "/open ")))
		default:
			sendLine(session, line)
		}
	}
}

func openConversation(session *chatlink.Session, rest *chatlink.RESTClient, arg string) {
	otherID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || otherID <= 0 {
		fmt.Println("usage: /open <userId>")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	history, err := rest.History(ctx, otherID)
	cancel()
	if err != nil {
		fmt.Printf("load history: %v\n", err)
	} else {
		session.Reconciler().SeedMessages(otherID, history)
	}

	acked := session.Reconciler().SetActive(otherID)
	for _, id := range acked {
		_ = session.SendRead(id, otherID)
	}

	for _, m := range session.Reconciler().Messages(otherID) {
		fmt.Printf("[%s] %d: %s\n", m.Timestamp.Local().Format("15:04"), m.SenderID, m.Content)
	}
}

func sendLine(session *chatlink.Session, line string) {
	otherID := session.Reconciler().Active()
	if otherID == 0 {
		fmt.Println("no open conversation; /open <userId> first")
		return
	}

	if _, err := session.SendMessage(line, otherID); err != nil {
		if errors.Is(err, chatlink.ErrDeliveryUncertain) {
			fmt.Println("(not connected; message not sent, try again)")
			return
		}
		fmt.Printf("send: %v\n", err)
	}
}

// Command client is a terminal chat client for the portal messaging hub,
// mainly used for manual testing against a running server.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"

	"portalchat/internal/protocol"
	"portalchat/internal/session"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "hub websocket url")
	token := flag.String("token", "", "bearer token")
	flag.Parse()

	if *token == "" {
		log.Fatal("a -token is required")
	}

	m := session.NewManager(*url, *token)
	m.OnStateChange(func(s session.State) {
		log.Printf("session: %s", s)
	})
	m.OnAuthFailure(func() {
		log.Fatal("session: authentication rejected, get a fresh token")
	})

	m.On(protocol.LoadChannels, func(data json.RawMessage) {
		var channels []protocol.ChannelDTO
		if err := json.Unmarshal(data, &channels); err != nil {
			return
		}
		for _, channel := range channels {
			preview := ""
			if len(channel.Messages) > 0 {
				preview = " | " + channel.Messages[0].Text
			}
			fmt.Printf("channel %s %q%s\n", channel.ID, channel.Name, preview)
		}
	})
	m.On(protocol.LoadChannel, func(data json.RawMessage) {
		var channel protocol.ChannelDTO
		if err := json.Unmarshal(data, &channel); err != nil {
			return
		}
		fmt.Printf("joined %s %q\n", channel.ID, channel.Name)
	})
	printMessages := func(data json.RawMessage) {
		var messages []protocol.MessageDTO
		if err := json.Unmarshal(data, &messages); err != nil {
			return
		}
		for _, message := range messages {
			fmt.Printf("[%s] %s: %s\n",
				message.Timestamp.Format("15:04:05"), message.User.UserName, message.Text)
		}
	}
	m.On(protocol.LoadMessages, printMessages)
	m.On(protocol.LoadUnreadMessages, printMessages)
	m.On(protocol.LoadNotifications, printMessages)
	m.On(protocol.LoadNotification, printMessages)
	m.On(protocol.LoadIsReadMessage, func(data json.RawMessage) {
		var id uuid.UUID
		if err := json.Unmarshal(data, &id); err != nil {
			return
		}
		fmt.Printf("read: %s\n", id)
	})
	m.On(protocol.ErrorEvent, func(data json.RawMessage) {
		var payload protocol.ErrorPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return
		}
		fmt.Printf("error: %s\n", payload.Content)
	})

	go m.Run()
	defer m.Close()

	fmt.Println("commands: /channels, /unread, /join <channel-id>, /dm <user-id>, /send <channel-id> <text>, /quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := runCommand(m, line); err != nil {
			fmt.Printf("error: %v\n", err)
		}
		if line == "/quit" {
			return
		}
	}
}

func runCommand(m *session.Manager, line string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/channels":
		return m.GetChannels()
	case "/unread":
		return m.GetUnreadMessages()
	case "/join":
		if len(fields) != 2 {
			return fmt.Errorf("usage: /join <channel-id>")
		}
		channelID, err := uuid.Parse(fields[1])
		if err != nil {
			return err
		}
		return m.JoinChannel(channelID)
	case "/dm":
		if len(fields) != 2 {
			return fmt.Errorf("usage: /dm <user-id>")
		}
		return m.JoinPrivateChannel(fields[1])
	case "/send":
		if len(fields) < 3 {
			return fmt.Errorf("usage: /send <channel-id> <text>")
		}
		channelID, err := uuid.Parse(fields[1])
		if err != nil {
			return err
		}
		return m.SendMessageToChannel(channelID, strings.Join(fields[2:], " "))
	case "/quit":
		return nil
	default:
		return fmt.Errorf("unknown command %s", fields[0])
	}
}

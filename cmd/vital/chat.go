package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/nidhogg/vitalcore/internal/gateway"
	"github.com/nidhogg/vitalcore/internal/liaison"
	"github.com/nidhogg/vitalcore/internal/oracle"
	"github.com/spf13/cobra"
)

var chatServer string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the liaison of a running server",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatServer, "server", "s", "http://localhost:8000", "VitalCore server URL")
}

func runChat(cmd *cobra.Command, args []string) error {
	fmt.Println("VitalCore Chat")
	fmt.Printf("Server: %s\n", chatServer)
	fmt.Println("Type 'exit' or 'quit' to leave.")
	fmt.Println("Commands: /status, /profile, /activity")
	fmt.Println("---")

	var history []oracle.Message
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		switch input {
		case "exit", "quit":
			fmt.Println("Bye!")
			return nil
		case "/status":
			fetchStatus(chatServer)
			continue
		case "/profile":
			fetchRaw(chatServer, "/api/profile")
			continue
		case "/activity":
			fetchRaw(chatServer, "/api/graph/activity")
			continue
		}

		reply, ok := sendMessage(chatServer, input, history)
		if !ok {
			continue
		}
		history = append(history,
			oracle.Message{Role: "user", Content: input},
			oracle.Message{Role: "assistant", Content: reply})
	}
	return scanner.Err()
}

func fetchStatus(server string) {
	resp, err := http.Get(server + "/api/gateway/status")
	if err != nil {
		printError("Failed to fetch status: %v", err)
		return
	}
	defer resp.Body.Close()

	var statuses []gateway.AdapterStatus
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		printError("Failed to parse status: %v", err)
		return
	}
	fmt.Println("Gateway Status:")
	if len(statuses) == 0 {
		fmt.Println("  no chat adapters configured")
	}
	for _, s := range statuses {
		icon := "\033[31m✗\033[0m"
		if s.Connected {
			icon = "\033[32m✓\033[0m"
		}
		fmt.Printf("  %s %s", icon, s.Platform)
		if s.Details != "" {
			fmt.Printf(" (%s)", s.Details)
		}
		if s.Error != "" {
			fmt.Printf(" \033[31m(%s)\033[0m", s.Error)
		}
		fmt.Println()
	}
}

func fetchRaw(server, path string) {
	resp, err := http.Get(server + path)
	if err != nil {
		printError("Request failed: %v", err)
		return
	}
	defer resp.Body.Close()
	var v any
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		printError("Failed to parse response: %v", err)
		return
	}
	printJSON(v)
}

func sendMessage(server, content string, history []oracle.Message) (string, bool) {
	body, _ := json.Marshal(map[string]any{
		"message": content,
		"history": history,
	})

	client := &http.Client{Timeout: 3 * time.Minute}
	resp, err := client.Post(server+"/api/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		printError("Request failed: %v", err)
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, string(data))
		return "", false
	}

	var reply liaison.Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		printError("Failed to parse response: %v", err)
		return "", false
	}
	for _, s := range reply.Steps {
		fmt.Printf("\033[36m[%s]\033[0m %s\n", s.Tool, truncate(s.Output, 120))
	}
	fmt.Println(reply.Content)
	return reply.Content, true
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func main() {
	server := flag.String("server", "http://localhost:8080", "pacer server URL")
	identity := flag.String("identity", "cli@pacer.local", "identity to chat as")
	flag.Parse()

	fmt.Println("pacer CLI Chat")
	fmt.Printf("Server: %s | Identity: %s\n", *server, *identity)
	fmt.Println("Type 'exit' or 'quit' to leave.")
	fmt.Println("Commands: /reset, /profile, /usage")
	fmt.Println("---")

	var transcript []chatMessage

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
		if input == "exit" || input == "quit" {
			fmt.Println("Bye!")
			return
		}
		if input == "/reset" {
			transcript = nil
			fmt.Println("Transcript cleared.")
			continue
		}
		if input == "/profile" {
			fetchProfile(*server, *identity)
			continue
		}
		if input == "/usage" {
			fetchUsage(*server, *identity)
			continue
		}

		transcript = append(transcript, chatMessage{Role: "user", Content: input})
		reply, err := streamChat(*server, *identity, transcript)
		if err != nil {
			printError("%v", err)
			transcript = transcript[:len(transcript)-1]
			continue
		}
		transcript = append(transcript, chatMessage{Role: "assistant", Content: reply})
	}
}

func streamChat(server, identity string, transcript []chatMessage) (string, error) {
	body, _ := json.Marshal(map[string]interface{}{
		"identity": identity,
		"messages": transcript,
	})

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Post(server+"/api/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var reply strings.Builder
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}
		if text := deltaText([]byte(data)); text != "" {
			fmt.Print(text)
			reply.WriteString(text)
		}
	}
	fmt.Println()
	if err := sc.Err(); err != nil {
		return reply.String(), fmt.Errorf("stream interrupted: %w", err)
	}
	return reply.String(), nil
}

// deltaText pulls the incremental text out of one provider stream event.
// OpenAI puts it in choices[0].delta.content, Anthropic in delta.text on
// content_block_delta events.
func deltaText(data []byte) string {
	var ev struct {
		Type    string `json:"type"`
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
		Delta struct {
			Text string `json:"text"`
		} `json:"delta"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return ""
	}
	if len(ev.Choices) > 0 {
		return ev.Choices[0].Delta.Content
	}
	if ev.Type == "content_block_delta" {
		return ev.Delta.Text
	}
	return ""
}

func fetchProfile(server, identity string) {
	resp, err := http.Get(server + "/api/profile?identity=" + url.QueryEscape(identity))
	if err != nil {
		printError("Failed to fetch profile: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
		return
	}

	var p struct {
		Identity     string `json:"identity"`
		Name         string `json:"name,omitempty"`
		Experience   string `json:"experience,omitempty"`
		Goal         string `json:"goal,omitempty"`
		Availability string `json:"availability,omitempty"`
		Event        string `json:"event,omitempty"`
		Activities   []struct {
			Distance string `json:"distance"`
			Duration string `json:"duration"`
		} `json:"activities,omitempty"`
		Plans []struct {
			Title string `json:"title,omitempty"`
		} `json:"plans,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		printError("Failed to parse profile: %v", err)
		return
	}

	fmt.Printf("Identity: %s\n", p.Identity)
	if p.Name != "" {
		fmt.Printf("Name: %s\n", p.Name)
	}
	if p.Experience != "" {
		fmt.Printf("Experience: %s\n", p.Experience)
	}
	if p.Goal != "" {
		fmt.Printf("Goal: %s\n", p.Goal)
	}
	if p.Availability != "" {
		fmt.Printf("Availability: %s\n", p.Availability)
	}
	if p.Event != "" {
		fmt.Printf("Upcoming event: %s\n", p.Event)
	}
	fmt.Printf("Activities: %d | Plans: %d\n", len(p.Activities), len(p.Plans))
}

func fetchUsage(server, identity string) {
	resp, err := http.Get(server + "/api/usage?identity=" + url.QueryEscape(identity))
	if err != nil {
		printError("Failed to fetch usage: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
		return
	}

	var u struct {
		Count       int    `json:"count"`
		WindowStart string `json:"window_start"`
		Remaining   int    `json:"remaining"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		printError("Failed to parse usage: %v", err)
		return
	}
	fmt.Printf("Requests this window: %d | Remaining: %d | Window start: %s\n",
		u.Count, u.Remaining, u.WindowStart)
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}

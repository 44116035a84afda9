// main.go
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/roomlink/roomlink/internal/config"
)

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
	room     = flag.String("room", "", "Room to join on startup")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("RoomLink v%s\n", appVersion)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Error: config directory is required")
		fmt.Fprintln(os.Stderr)
		showUsage()
		os.Exit(1)
	}

	runClient(args[0], *room)
}

func runClient(dirArg, startRoom string) {
	absDir, err := filepath.Abs(dirArg)
	if err != nil {
		log.Fatalf("Invalid config directory: %v", err)
	}

	if err := os.MkdirAll(absDir, 0755); err != nil {
		log.Fatalf("Create config directory: %v", err)
	}

	cfgPath := filepath.Join(absDir, "roomlink.json")
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if created {
		log.Printf("Created default config at %s — set identity.user_id and identity.username", cfgPath)
		os.Exit(1)
	}

	printBanner(absDir, cfgPath, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("\nShutting down gracefully...")
		cancel()
	}()

	client, err := NewClient(cfg, absDir)
	if err != nil {
		log.Fatalf("Client setup failed: %v", err)
	}
	defer client.Close()

	if startRoom != "" {
		if err := client.SelectRoom(ctx, startRoom); err != nil {
			log.Printf("Initial history load failed: %v", err)
		}
	}

	repl(ctx, client)
}

// repl drives the client from stdin: plain lines are sent as chat, slash
// commands control rooms, paging and calls.
func repl(ctx context.Context, client *Client) {
	scanner := bufio.NewScanner(os.Stdin)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if !strings.HasPrefix(line, "/") {
				if id := client.SendText(line); id == "" {
					fmt.Println("No room selected. Use /join <room>.")
				}
				continue
			}
			if quit := command(ctx, client, line); quit {
				return
			}
		}
	}
}

func command(ctx context.Context, client *Client, line string) (quit bool) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/exit":
		return true

	case "/join":
		if len(args) < 1 {
			fmt.Println("Usage: /join <room>")
			return false
		}
		if err := client.SelectRoom(ctx, args[0]); err != nil {
			fmt.Printf("History load failed: %v\n", err)
		}

	case "/leave":
		client.LeaveRoom()

	case "/older":
		if err := client.LoadOlder(ctx); err != nil {
			fmt.Printf("Page backward failed: %v\n", err)
		}

	case "/newer":
		if err := client.LoadNewer(ctx); err != nil {
			fmt.Printf("Page forward failed: %v\n", err)
		}

	case "/goto":
		if len(args) < 1 {
			fmt.Println("Usage: /goto <message-id>")
			return false
		}
		if err := client.JumpTo(ctx, args[0]); err != nil {
			fmt.Printf("Jump failed: %v\n", err)
		}

	case "/messages":
		for _, m := range client.Messages() {
			marker := ""
			if m.Pending {
				marker = " (sending)"
			}
			fmt.Printf("[%s] %s: %s%s\n", m.ServerID, m.Sender, m.Text, marker)
		}

	case "/who":
		for _, p := range client.Participants() {
			fmt.Printf("%s (%s)\n", p.Username, p.UserID)
		}

	case "/call":
		if len(args) < 1 {
			fmt.Println("Usage: /call <user-id>")
			return false
		}
		if err := client.StartCall(args[0]); err != nil {
			fmt.Printf("Call failed: %v\n", err)
		}

	case "/retry":
		if len(args) < 1 {
			fmt.Println("Usage: /retry <user-id>")
			return false
		}
		if err := client.RetryCall(args[0]); err != nil {
			fmt.Printf("Retry failed: %v\n", err)
		}

	case "/hangup":
		if len(args) < 1 {
			fmt.Println("Usage: /hangup <user-id>")
			return false
		}
		client.EndCall(args[0])

	case "/share":
		if len(args) < 1 {
			fmt.Println("Usage: /share <user-id>")
			return false
		}
		if err := client.StartScreenShare(args[0]); err != nil {
			fmt.Printf("Screen share failed: %v\n", err)
		}

	case "/unshare":
		if len(args) < 1 {
			fmt.Println("Usage: /unshare <user-id>")
			return false
		}
		if err := client.StopScreenShare(args[0]); err != nil {
			fmt.Printf("Screen share stop failed: %v\n", err)
		}

	case "/mute", "/unmute":
		if len(args) < 1 {
			fmt.Printf("Usage: %s <user-id>\n", cmd)
			return false
		}
		if err := client.SetMuted(args[0], cmd == "/mute"); err != nil {
			fmt.Printf("Mute toggle failed: %v\n", err)
		}

	case "/status":
		for _, s := range client.CallStatus() {
			fmt.Printf("%s: %s queued=%d pkts=%d gaps=%d sharing=%v\n",
				s.ParticipantID, s.State, s.QueuedCands, s.RTPPackets, s.RTPGaps, s.ScreenSharing)
		}

	case "/avatar":
		if len(args) < 1 {
			fmt.Println("Usage: /avatar <png-file>")
			return false
		}
		png, err := os.ReadFile(args[0])
		if err != nil {
			fmt.Printf("Avatar read failed: %v\n", err)
			return false
		}
		if err := client.AnnounceAvatar(png); err != nil {
			fmt.Printf("Avatar announce failed: %v\n", err)
		}

	case "/trace":
		for _, t := range client.FrameTrace() {
			fmt.Printf("%s %-20s %s\n", t.At.Format("15:04:05.000"), t.Type, t.Sender)
		}

	default:
		fmt.Printf("Unknown command %s\n", cmd)
	}
	return false
}

func printBanner(dir, cfgPath string, cfg config.Config) {
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Printf("║  RoomLink v%-25s ║\n", appVersion)
	fmt.Println("╚══════════════════════════════════════╝")
	fmt.Printf("  Config dir: %s\n", dir)
	fmt.Printf("  Config:     %s\n", cfgPath)
	fmt.Printf("  Identity:   %s (%s)\n", cfg.Identity.Username, cfg.Identity.UserID)
	fmt.Printf("  Server:     %s\n", cfg.Server.BaseURL)
	fmt.Println()
}

func showUsage() {
	fmt.Println("RoomLink - room chat with native calls")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  roomlink <config-directory>            Start the client")
	fmt.Println("  roomlink -room <room> <config-dir>     Start and join a room")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  -h         Show this help")
	fmt.Println("  -version   Show version")
}

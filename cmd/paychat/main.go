package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"PayChat/sdk/go/paychat"
)

// main 是终端对话客户端：每行输入作为一条消息发送，逐段打印回复。
func main() {
	defaultURL := os.Getenv("PAYCHAT_URL")
	if defaultURL == "" {
		defaultURL = "http://127.0.0.1:8080"
	}
	baseURL := flag.String("url", defaultURL, "PayChat 服务地址")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, *baseURL, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "paychat: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, baseURL string, in io.Reader, out io.Writer) error {
	client, err := paychat.NewClient(baseURL, nil)
	if err != nil {
		return err
	}
	sessionID, err := client.CreateSession(ctx)
	if err != nil {
		return fmt.Errorf("创建会话失败: %w", err)
	}
	defer func() { _ = client.End(context.WithoutCancel(ctx), sessionID) }()

	fmt.Fprintln(out, "Connected. Type a message, or /quit to exit.")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}

		reply, err := client.Send(ctx, sessionID, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}
		for _, chunk := range reply.Chunks {
			fmt.Fprintln(out, chunk)
		}
	}
}

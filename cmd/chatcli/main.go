// Command chatcli is a terminal client for the chat server.
//
//	chatcli --url ws://localhost:8085/ws
//
// Lines typed on stdin are sent as chat messages; "/name X" sets the
// user name to X. Notifications from the server are printed as they arrive.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type notification struct {
	Action   string `json:"Action"`
	From     string `json:"From"`
	Text     string `json:"Text"`
	UserName string `json:"UserName"`
}

func main() {
	var url string
	cmd := &cobra.Command{
		Use:   "chatcli",
		Short: "Terminal client for the chat server",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(url)
		},
	}
	cmd.Flags().StringVar(&url, "url", "ws://localhost:8085/ws", "chat server websocket url")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(url string) error {
	Log, _ := zap.NewDevelopment()
	defer Log.Sync()

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: status %d: %w", url, resp.StatusCode, err)
		}
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					Log.Warn("read", zap.Error(err))
				}
				return
			}
			fmt.Println(render(data))
		}
	}()

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	for {
		select {
		case <-done:
			return nil
		case line, ok := <-lines:
			if !ok {
				closeGracefully(conn, done)
				return nil
			}
			frame, ok := frameFor(line)
			if !ok {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		case <-interrupt:
			closeGracefully(conn, done)
			return nil
		}
	}
}

// frameFor turns an input line into a request frame.
func frameFor(line string) ([]byte, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, false
	}
	if name, ok := strings.CutPrefix(line, "/name "); ok {
		b, _ := json.Marshal(map[string]string{"Action": "rename", "UserName": strings.TrimSpace(name)})
		return b, true
	}
	b, _ := json.Marshal(map[string]string{"Action": "send", "Text": line})
	return b, true
}

func render(data []byte) string {
	var n notification
	if err := json.Unmarshal(data, &n); err != nil {
		return string(data)
	}
	switch n.Action {
	case "message":
		from := n.From
		if from == "" {
			from = "(anonymous)"
		}
		return fmt.Sprintf("%s: %s", from, n.Text)
	case "username":
		return fmt.Sprintf("* you are now %q", n.UserName)
	default:
		return string(data)
	}
}

func closeGracefully(conn *websocket.Conn, done <-chan struct{}) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	select {
	case <-done:
	case <-time.After(time.Second):
	}
}

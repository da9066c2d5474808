// Command client is a REST/WebSocket smoke-test CLI for the exchange,
// replacing the teacher's raw-TCP client (cmd/client/client.go) now that
// the wire protocol is HTTP + WebSocket (spec §6). Flag-based actions
// mirror the teacher's own CLI shape (-action place/cancel/log here
// becomes team/order/cancel/watch).
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/gorilla/websocket"
)

func main() {
	server := flag.String("server", "http://127.0.0.1:8080", "base URL of the exchange REST API")
	apiKey := flag.String("api-key", "", "team API key (required for order/cancel/watch)")
	action := flag.String("action", "watch", "action to perform: team | order | cancel | watch")

	teamName := flag.String("team-name", "", "team name (action=team)")
	role := flag.String("role", "retail", "team role (action=team)")

	instrument := flag.String("instrument", "TEST", "instrument symbol (action=order)")
	side := flag.String("side", "buy", "buy | sell (action=order)")
	price := flag.Float64("price", 0, "limit price; omit for a market order (action=order)")
	quantity := flag.Uint64("qty", 10, "order quantity (action=order)")
	clientOrderID := flag.String("client-order-id", "", "optional client order id (action=order)")

	orderID := flag.String("order-id", "", "order id to cancel (action=cancel)")

	flag.Parse()

	switch strings.ToLower(*action) {
	case "team":
		if *teamName == "" {
			log.Fatal("-team-name is required for action=team")
		}
		createTeam(*server, *teamName, *role)

	case "order":
		requireAPIKey(*apiKey)
		submitOrder(*server, *apiKey, *instrument, *side, *quantity, *price, *clientOrderID)

	case "cancel":
		requireAPIKey(*apiKey)
		if *orderID == "" {
			log.Fatal("-order-id is required for action=cancel")
		}
		cancelOrder(*server, *apiKey, *orderID)

	case "watch":
		requireAPIKey(*apiKey)
		watch(*server, *apiKey)

	default:
		log.Fatalf("unknown action %q", *action)
	}
}

func requireAPIKey(apiKey string) {
	if apiKey == "" {
		log.Fatal("-api-key is required for this action")
	}
}

func createTeam(server, teamName, role string) {
	body, _ := json.Marshal(map[string]string{"team_name": teamName, "role": role})
	resp, err := http.Post(server+"/game/teams", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	printResponse(resp)
}

func submitOrder(server, apiKey, instrument, side string, quantity uint64, price float64, clientOrderID string) {
	payload := map[string]any{
		"instrument": instrument,
		"side":       side,
		"quantity":   quantity,
	}
	if price > 0 {
		payload["price"] = price
	}
	if clientOrderID != "" {
		payload["client_order_id"] = clientOrderID
	}
	body, _ := json.Marshal(payload)

	req, _ := http.NewRequest(http.MethodPost, server+"/exchange/orders", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	printResponse(resp)
}

func cancelOrder(server, apiKey, orderID string) {
	req, _ := http.NewRequest(http.MethodDelete, server+"/exchange/orders/"+orderID, nil)
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	printResponse(resp)
}

// watch connects to /ws and prints every pushed message until interrupted,
// the same dial-then-read-loop shape the teacher's TCP client uses for its
// execution-report stream (cmd/client/client.go readReports), adapted to
// gorilla/websocket.
func watch(server, apiKey string) {
	wsURL, err := toWebSocketURL(server, apiKey)
	if err != nil {
		log.Fatalf("invalid server URL: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close()

	fmt.Printf("connected to %s, streaming messages (Ctrl+C to exit)\n", wsURL)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if err != io.EOF {
				log.Printf("connection lost: %v", err)
			}
			os.Exit(0)
		}
		fmt.Println(string(msg))
	}
}

func toWebSocketURL(server, apiKey string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	q := u.Query()
	q.Set("api_key", apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func printResponse(resp *http.Response) {
	dec := json.NewDecoder(resp.Body)
	var v any
	if err := dec.Decode(&v); err != nil {
		fmt.Printf("status %s: failed to decode body: %v\n", resp.Status, err)
		return
	}
	pretty, _ := json.MarshalIndent(v, "", "  ")
	fmt.Printf("status %s\n%s\n", resp.Status, pretty)
}

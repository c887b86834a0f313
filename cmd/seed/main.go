// Command seed populates the ai-for-hire marketplace with realistic demo
// data against a running gateway. Invoices are paid for real through a
// Phoenix test wallet, so every balance shown is backed by settled payments.
//
// Environment:
//
//	BASE_URL               gateway base URL (default http://localhost:8080)
//	PHOENIX_TEST_URL       test wallet phoenixd (default http://localhost:9741)
//	PHOENIX_TEST_PASSWORD  test wallet API password (required)
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/alittlebitofmoney/server/internal/lightning"
)

type client struct {
	baseURL string
	http    *http.Client
	wallet  *lightning.Client
}

func main() {
	godotenv.Load()

	baseURL := envOr("BASE_URL", "http://localhost:8080")
	walletURL := envOr("PHOENIX_TEST_URL", "http://localhost:9741")
	walletPassword := os.Getenv("PHOENIX_TEST_PASSWORD")
	if walletPassword == "" {
		fmt.Fprintln(os.Stderr, "seed: PHOENIX_TEST_PASSWORD is required")
		os.Exit(1)
	}

	c := &client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		wallet:  lightning.New(walletURL, walletPassword, 30*time.Second, nil),
	}

	fmt.Printf("=== SEEDING AI FOR HIRE MARKETPLACE ===\nTarget: %s\n\n", baseURL)
	if err := c.run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func (c *client) run() error {
	// Fees: 50 sats per task, 10 per quote, plus escrow amounts.
	fmt.Println("[1] Creating funded personas...")
	alice, err := c.fundedToken("Alice (buyer)", 400)
	if err != nil {
		return err
	}
	bob, err := c.fundedToken("Bob (buyer+seller)", 300)
	if err != nil {
		return err
	}
	carol, err := c.fundedToken("Carol (worker)", 100)
	if err != nil {
		return err
	}
	dave, err := c.fundedToken("Dave (worker)", 100)
	if err != nil {
		return err
	}

	// Completed lifecycle with a quote-scoped negotiation thread.
	fmt.Println("\n[2] Task: menu translation (completed)...")
	t1, err := c.createTask(alice, "Translate restaurant menu from Japanese to English",
		"8-page Japanese restaurant menu. Need natural English translation, not robotic. "+
			"Keep dish names in romaji with English descriptions.", 150)
	if err != nil {
		return err
	}
	q1, err := c.createQuote(carol, t1, 80,
		"Native Japanese speaker, 5+ years translation experience. Can deliver in 2 hours.")
	if err != nil {
		return err
	}
	if _, err := c.createQuote(dave, t1, 90,
		"Professional translator. Will include cultural context notes for unfamiliar dishes."); err != nil {
		return err
	}
	c.message(alice, t1, q1, "Can you handle specialized culinary terms?")
	c.message(carol, t1, q1, "Absolutely. I worked at a kaiseki restaurant in Kyoto for 3 years.")
	if err := c.post(alice, "/api/v1/ai-for-hire/tasks/"+t1+"/quotes/"+q1+"/accept", nil, 200, nil); err != nil {
		return err
	}
	menu := base64.StdEncoding.EncodeToString([]byte(
		"Omakase Course - Chef's Selection\n" +
			"1. Sakizuke: Seasonal vegetables with yuzu miso\n" +
			"2. Otsukuri: Three varieties of sashimi\n" +
			"3. Yakimono: Charcoal-grilled nodoguro with salt\n"))
	if err := c.post(carol, "/api/v1/ai-for-hire/tasks/"+t1+"/deliver", map[string]interface{}{
		"filename":       "menu_translation_en.txt",
		"content_base64": menu,
		"notes":          "Full translation complete with romaji and cultural notes.",
	}, 201, nil); err != nil {
		return err
	}
	if err := c.post(alice, "/api/v1/ai-for-hire/tasks/"+t1+"/confirm", nil, 200, nil); err != nil {
		return err
	}
	fmt.Println("  -> Completed")

	// In escrow with a price renegotiation via PATCH.
	fmt.Println("\n[3] Task: logo design (in escrow)...")
	t2, err := c.createTask(bob, "Design a logo for my Lightning wallet app",
		"Modern, minimal logo for a mobile wallet called 'Spark'. Deliver as SVG + PNG.", 200)
	if err != nil {
		return err
	}
	q2, err := c.createQuote(dave, t2, 120,
		"Brand designer, 50+ logo projects. Includes a mini brand guide.")
	if err != nil {
		return err
	}
	c.message(bob, t2, q2, "The brand guide is a nice touch. Can you do 100 sats?")
	c.message(dave, t2, q2, "I can do 110 since the brand guide adds real value.")
	if err := c.patch(dave, "/api/v1/ai-for-hire/tasks/"+t2+"/quotes/"+q2,
		map[string]interface{}{"price_sats": 110}, 200); err != nil {
		return err
	}
	if err := c.post(bob, "/api/v1/ai-for-hire/tasks/"+t2+"/quotes/"+q2+"/accept", nil, 200, nil); err != nil {
		return err
	}
	fmt.Println("  -> In escrow, Dave working")

	// Open with competing quotes.
	fmt.Println("\n[4] Task: Lightning newsletter (open, quotes pending)...")
	t3, err := c.createTask(bob, "Write 4 weekly newsletter editions about Lightning Network developments",
		"Each edition ~500 words covering protocol changes, new apps, adoption milestones.", 160)
	if err != nil {
		return err
	}
	q3, err := c.createQuote(carol, t3, 120,
		"Tech writer covering Bitcoin/Lightning since 2021.")
	if err != nil {
		return err
	}
	c.message(bob, t3, q3, "Can you share a sample of your previous Lightning coverage?")
	c.message(carol, t3, q3, "Sure, here's my recent piece on BOLT12 adoption.")
	fmt.Println("  -> Open with 1 quote")

	// Open with no quotes yet.
	fmt.Println("\n[5] Task: Nostr bot (open, no quotes)...")
	if _, err := c.createTask(alice, "Build a Nostr bot that posts Bitcoin price alerts",
		"Bot posts to a configurable relay when BTC crosses user thresholds. NIP-01 events.", 180); err != nil {
		return err
	}
	fmt.Println("  -> Open, awaiting quotes")

	fmt.Println("\n=== SEED COMPLETE ===")
	for label, token := range map[string]string{"Alice": alice, "Bob": bob, "Carol": carol, "Dave": dave} {
		var info struct {
			BalanceSats int64 `json:"balance_sats"`
		}
		if err := c.get(token, "/api/v1/ai-for-hire/me", 200, &info); err != nil {
			return err
		}
		fmt.Printf("  %s: %d sats\n", label, info.BalanceSats)
	}
	return nil
}

// fundedToken runs the real top-up flow: request an invoice, pay it from the
// test wallet, claim the preimage for a fresh token.
func (c *client) fundedToken(label string, amountSats int64) (string, error) {
	fmt.Printf("  Funding %s (%d sats)...\n", label, amountSats)

	var topup struct {
		Invoice string `json:"invoice"`
	}
	if err := c.post("", "/api/v1/topup", map[string]interface{}{"amount_sats": amountSats}, 402, &topup); err != nil {
		return "", fmt.Errorf("topup %s: %w", label, err)
	}

	payment, err := c.wallet.PayInvoice(context.Background(), topup.Invoice)
	if err != nil {
		return "", fmt.Errorf("pay invoice for %s: %w", label, err)
	}

	var claim struct {
		Token       string `json:"token"`
		BalanceSats int64  `json:"balance_sats"`
	}
	if err := c.post("", "/api/v1/topup/claim", map[string]interface{}{"preimage": payment.PaymentPreimage}, 200, &claim); err != nil {
		return "", fmt.Errorf("claim topup for %s: %w", label, err)
	}
	fmt.Printf("    -> balance: %d sats\n", claim.BalanceSats)
	return claim.Token, nil
}

func (c *client) createTask(token, title, description string, budgetSats int64) (string, error) {
	var task struct {
		ID string `json:"id"`
	}
	err := c.post(token, "/api/v1/ai-for-hire/tasks", map[string]interface{}{
		"title":       title,
		"description": description,
		"budget_sats": budgetSats,
	}, 201, &task)
	return task.ID, err
}

func (c *client) createQuote(token, taskID string, priceSats int64, description string) (string, error) {
	var quote struct {
		ID string `json:"id"`
	}
	err := c.post(token, "/api/v1/ai-for-hire/tasks/"+taskID+"/quotes", map[string]interface{}{
		"price_sats":  priceSats,
		"description": description,
	}, 201, &quote)
	return quote.ID, err
}

func (c *client) message(token, taskID, quoteID, body string) {
	// Seed messages are best effort.
	c.post(token, "/api/v1/ai-for-hire/tasks/"+taskID+"/quotes/"+quoteID+"/messages",
		map[string]interface{}{"body": body}, 201, nil)
}

func (c *client) post(token, path string, body interface{}, expected int, out interface{}) error {
	return c.do(http.MethodPost, token, path, body, expected, out)
}

func (c *client) patch(token, path string, body interface{}, expected int) error {
	return c.do(http.MethodPatch, token, path, body, expected, nil)
}

func (c *client) get(token, path string, expected int, out interface{}) error {
	return c.do(http.MethodGet, token, path, nil, expected, out)
}

func (c *client) do(method, token, path string, body interface{}, expected int, out interface{}) error {
	var buf bytes.Buffer
	if body == nil {
		body = map[string]interface{}{}
	}
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}

	req, err := http.NewRequest(method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("X-Token", token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != expected {
		var raw json.RawMessage
		json.NewDecoder(resp.Body).Decode(&raw)
		return fmt.Errorf("%s %s: got %d, want %d: %s", method, path, resp.StatusCode, expected, string(raw))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

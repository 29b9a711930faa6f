package main

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"os"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

type meResponse struct {
	Address  string `json:"address"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type threadsResponse struct {
	Items []struct {
		ID       string `json:"id"`
		Subject  string `json:"subject"`
		IsUnread bool   `json:"isUnread"`
	} `json:"items"`
	Total  int `json:"total"`
	Unread int `json:"unread"`
}

// Walks two wallets through the gateway and the HTTP API: both sign in
// and claim usernames, an outside sender mails them over SMTP, and one
// replies in-app.
func main() {
	baseURL := getenvDefault("BRIDGBOX_URL", "http://localhost:3025")
	smtpAddr := getenvDefault("BRIDGBOX_SMTP", "localhost:2025")

	walletA, walletB := newWallet(), newWallet()
	clientA, clientB := newClient(), newClient()

	meA := signIn(clientA, baseURL, walletA, "ada")
	meB := signIn(clientB, baseURL, walletB, "grace")
	fmt.Println("signed in as", meA.Email, "and", meB.Email)

	var auth sasl.Client
	if user := os.Getenv("SMTP_USERNAME"); user != "" {
		auth = sasl.NewPlainClient("", user, os.Getenv("SMTP_PASSWORD"))
	}
	sendSMTP(smtpAddr, auth, "sender@example.org", []string{meA.Email}, "Test 1 - HTML + Text", meA.Email)
	sendSMTP(smtpAddr, auth, "sender@example.org", []string{meB.Email}, "Test 2 - HTML + Text", meB.Email)
	sendSMTP(smtpAddr, auth, "sender@example.org", []string{meA.Email, meB.Email}, "Test 3 - Multi-recipient", meA.Email+", "+meB.Email)

	time.Sleep(500 * time.Millisecond)

	reply, _ := json.Marshal(map[string]any{
		"to":      []string{meB.Email},
		"subject": "Did you get test 3?",
		"body":    "<p>Checking the gateway.</p>",
	})
	resp := mustDo(clientA, http.MethodPost, baseURL+"/api/send", bytes.NewReader(reply))
	resp.Body.Close()

	for _, account := range []struct {
		me     meResponse
		client *http.Client
	}{{meA, clientA}, {meB, clientB}} {
		threads := listThreads(account.client, baseURL)
		fmt.Printf("- %s threads=%d unread=%d\n", account.me.Email, threads.Total, threads.Unread)
		for _, thread := range threads.Items {
			fmt.Printf("    %s unread=%v\n", thread.Subject, thread.IsUnread)
		}
	}
}

func newClient() *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{
		Timeout: 10 * time.Second,
		Jar:     jar,
	}
}

func newWallet() *ecdsa.PrivateKey {
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	return key
}

// signIn answers the server's challenge with a personal_sign signature and
// then claims username.
func signIn(client *http.Client, baseURL string, key *ecdsa.PrivateKey, username string) meResponse {
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	payload, _ := json.Marshal(map[string]string{"address": address})
	resp := mustDo(client, http.MethodPost, baseURL+"/api/login/challenge", bytes.NewReader(payload))
	var challenge struct {
		Nonce   string `json:"nonce"`
		Message string `json:"message"`
	}
	mustDecode(resp.Body, &challenge)
	resp.Body.Close()

	sig, err := crypto.Sign(accounts.TextHash([]byte(challenge.Message)), key)
	if err != nil {
		panic(err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	payload, _ = json.Marshal(map[string]string{
		"address":   address,
		"nonce":     challenge.Nonce,
		"signature": hexutil.Encode(sig),
	})
	resp = mustDo(client, http.MethodPost, baseURL+"/api/login", bytes.NewReader(payload))
	resp.Body.Close()

	payload, _ = json.Marshal(map[string]string{"username": username})
	resp = mustDo(client, http.MethodPut, baseURL+"/api/me/username", bytes.NewReader(payload))
	defer resp.Body.Close()
	var out meResponse
	mustDecode(resp.Body, &out)
	return out
}

func listThreads(client *http.Client, baseURL string) threadsResponse {
	resp := mustDo(client, http.MethodGet, baseURL+"/api/threads?box=inbox&page=1&limit=5", nil)
	defer resp.Body.Close()
	var out threadsResponse
	mustDecode(resp.Body, &out)
	return out
}

func sendSMTP(addr string, auth sasl.Client, from string, to []string, subject, recipients string) {
	msg, err := buildTestMessage(from, to, subject, recipients)
	if err != nil {
		fmt.Fprintln(os.Stderr, "build message:", err)
		return
	}
	if err := smtp.SendMail(addr, auth, from, to, bytes.NewReader(msg)); err != nil {
		fmt.Fprintln(os.Stderr, "smtp error:", err)
	}
}

func buildTestMessage(from string, to []string, subject, recipients string) ([]byte, error) {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetSubject(subject)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	list := make([]*mail.Address, 0, len(to))
	for _, addr := range to {
		list = append(list, &mail.Address{Address: addr})
	}
	h.SetAddressList("To", list)

	var buf bytes.Buffer
	w, err := mail.CreateInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	parts := []struct{ mediaType, body string }{
		{"text/plain", "Hello!\n\nThis is a Bridgbox gateway test email.\n\nRecipients: " + recipients + "\n"},
		{"text/html", "<h2>Bridgbox gateway test</h2><p><strong>Recipients:</strong> " + recipients + "</p>"},
	}
	for _, part := range parts {
		var ph mail.InlineHeader
		ph.SetContentType(part.mediaType, map[string]string{"charset": "utf-8"})
		pw, err := w.CreatePart(ph)
		if err != nil {
			return nil, err
		}
		if _, err := io.WriteString(pw, part.body); err != nil {
			return nil, err
		}
		if err := pw.Close(); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func mustDo(client *http.Client, method, url string, body io.Reader) *http.Response {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		panic(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		panic(err)
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		panic(fmt.Sprintf("request failed: %s %s: %s", method, url, string(b)))
	}
	return resp
}

func mustDecode(r io.Reader, v any) {
	dec := json.NewDecoder(r)
	if err := dec.Decode(v); err != nil {
		panic(err)
	}
}

func getenvDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

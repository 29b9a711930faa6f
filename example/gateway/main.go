package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// Sends a batch of plain messages through the inbound gateway to one
// Bridgbox address.
func main() {
	addr := getenvDefault("BRIDGBOX_SMTP", "127.0.0.1:2025")
	from := "sender@example.org"
	to := getenvDefault("BRIDGBOX_TO", "alice@bridgbox.cloud")

	var auth sasl.Client
	if user := os.Getenv("SMTP_USERNAME"); user != "" {
		auth = sasl.NewPlainClient("", user, os.Getenv("SMTP_PASSWORD"))
	}

	for i := 1; i <= 100; i++ {
		subject := fmt.Sprintf("Gateway Example #%d", i)
		body := fmt.Sprintf("Hello from the gateway example. Message %d.\r\n", i)
		message := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", from, to, subject, body)

		if err := smtp.SendMail(addr, auth, from, []string{to}, strings.NewReader(message)); err != nil {
			fmt.Fprintln(os.Stderr, "smtp error:", err)
			os.Exit(1)
		}
	}

	fmt.Println("sent 100 messages to", to)
}

func getenvDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

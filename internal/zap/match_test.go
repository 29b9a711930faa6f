package zap

import (
	"context"
	"errors"
	"testing"
)

type aliasMap map[string]string

func (m aliasMap) ResolveAlias(_ context.Context, alias string) (string, error) {
	if alias == "broken@bridgbox.cloud" {
		return "", errors.New("lookup failed")
	}
	if address, ok := m[alias]; ok {
		return address, nil
	}
	return "", errors.New("not found")
}

func fileRule(id, fragment string) Zap {
	return Zap{ID: id, IsActive: true, Trigger: Trigger{Type: TriggerFileUpload, Filter: Filter{FileNameContains: fragment}}}
}

func emailRule(id, from string) Zap {
	return Zap{ID: id, IsActive: true, Trigger: Trigger{Type: TriggerEmailReceived, Filter: Filter{FromAddress: from}}}
}

func ids(zaps []Zap) []string {
	out := make([]string, 0, len(zaps))
	for _, z := range zaps {
		out = append(out, z.ID)
	}
	return out
}

func TestMatchFileUpload(t *testing.T) {
	inactive := fileRule("off", "invoice")
	inactive.IsActive = false
	rules := []Zap{fileRule("inv", "invoice"), fileRule("all", ""), inactive, emailRule("mail", "0xabc")}

	tests := []struct {
		name     string
		fileName string
		want     []string
	}{
		{name: "case insensitive substring", fileName: "Q3-Invoice-2024.pdf", want: []string{"inv", "all"}},
		{name: "no match", fileName: "Q3-Report.pdf", want: []string{"all"}},
		{name: "upper fragment", fileName: "INVOICE.TXT", want: []string{"inv", "all"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(MatchFileUpload(rules, tt.fileName))
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestMatchEmailReceived(t *testing.T) {
	const alice = "0x00000000000000000000000000000000000000aa"
	resolver := aliasMap{"alice@bridgbox.cloud": alice}
	rules := []Zap{
		emailRule("direct", "0x00000000000000000000000000000000000000AA"),
		emailRule("alias", "Alice@bridgbox.cloud"),
		emailRule("unknown", "nobody@bridgbox.cloud"),
		emailRule("broken", "broken@bridgbox.cloud"),
		emailRule("empty", ""),
		fileRule("file", ""),
	}

	got := ids(MatchEmailReceived(context.Background(), rules, alice, resolver))
	if len(got) != 2 || got[0] != "direct" || got[1] != "alias" {
		t.Fatalf("matched %v", got)
	}

	if got := MatchEmailReceived(context.Background(), rules, "0xother", resolver); len(got) != 0 {
		t.Fatalf("unexpected match %v", ids(got))
	}
}

package zap

import (
	"context"
	"strings"
)

// Resolver maps an alias such as "alice@bridgbox.cloud" to a wallet
// address.
type Resolver interface {
	ResolveAlias(ctx context.Context, alias string) (string, error)
}

// MatchFileUpload returns the active FILE_UPLOAD rules whose filename
// fragment occurs in fileName, ignoring case. An empty fragment matches
// every file.
func MatchFileUpload(rules []Zap, fileName string) []Zap {
	name := strings.ToLower(fileName)
	var matched []Zap
	for _, rule := range rules {
		if !rule.IsActive || rule.Trigger.Type != TriggerFileUpload {
			continue
		}
		fragment := strings.ToLower(strings.TrimSpace(rule.Trigger.Filter.FileNameContains))
		if strings.Contains(name, fragment) {
			matched = append(matched, rule)
		}
	}
	return matched
}

// MatchEmailReceived returns the active EMAIL_RECEIVED rules whose sender
// filter equals from. Filters containing "@" are aliases and go through
// resolver; a rule whose alias cannot be resolved is skipped.
func MatchEmailReceived(ctx context.Context, rules []Zap, from string, resolver Resolver) []Zap {
	sender := strings.ToLower(strings.TrimSpace(from))
	if sender == "" {
		return nil
	}
	var matched []Zap
	for _, rule := range rules {
		if !rule.IsActive || rule.Trigger.Type != TriggerEmailReceived {
			continue
		}
		filter := strings.ToLower(strings.TrimSpace(rule.Trigger.Filter.FromAddress))
		if filter == "" {
			continue
		}
		if strings.Contains(filter, "@") {
			if resolver == nil {
				continue
			}
			address, err := resolver.ResolveAlias(ctx, filter)
			if err != nil || address == "" {
				continue
			}
			filter = strings.ToLower(address)
		}
		if filter == sender {
			matched = append(matched, rule)
		}
	}
	return matched
}

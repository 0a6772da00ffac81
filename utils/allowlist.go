package utils

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/go-github/v68/github"
	"github.com/samber/lo"
)

// AllowList gates sign in by handle or org membership. An empty list allows everyone.
type AllowList struct {
	Handles []string
	Orgs    []string
}

func NewAllowList(handles []string, orgs []string) AllowList {
	clean := func(items []string) []string {
		items = lo.Map(items, func(item string, _ int) string {
			return strings.ToLower(strings.TrimSpace(item))
		})
		return lo.Uniq(lo.Compact(items))
	}
	return AllowList{Handles: clean(handles), Orgs: clean(orgs)}
}

func (a AllowList) Empty() bool {
	return len(a.Handles) == 0 && len(a.Orgs) == 0
}

// Allows reports whether login may use the app. client must act as that user so
// private org memberships are visible.
func (a AllowList) Allows(ctx context.Context, client *github.Client, login string) (bool, error) {
	if a.Empty() {
		return true, nil
	}
	if lo.Contains(a.Handles, strings.ToLower(login)) {
		return true, nil
	}
	for _, org := range a.Orgs {
		var member bool
		err := WithRetry(ctx, func() error {
			var err error
			member, _, err = client.Organizations.IsMember(ctx, org, login)
			return err
		})
		if err != nil {
			slog.Warn("Could not check org membership", "org", org, "login", login, "error", err)
			continue
		}
		if member {
			return true, nil
		}
	}
	return false, nil
}

package controllers

import (
	"testing"

	"github.com/google/go-github/v68/github"
	"github.com/stretchr/testify/assert"
)

func pushEvent(ref string, deleted bool, description string, sender *github.User) *github.PushEvent {
	return &github.PushEvent{
		Ref:     github.Ptr(ref),
		Deleted: github.Ptr(deleted),
		After:   github.Ptr("abc123"),
		Repo: &github.PushEventRepository{
			Name:          github.Ptr("widget"),
			FullName:      github.Ptr("octo/widget"),
			Owner:         &github.User{Login: github.Ptr("octo")},
			DefaultBranch: github.Ptr("main"),
			Description:   github.Ptr(description),
		},
		Sender:       sender,
		Installation: &github.Installation{ID: github.Ptr(int64(7))},
	}
}

func property(name string, value interface{}) *github.CustomPropertyValue {
	return &github.CustomPropertyValue{PropertyName: name, Value: value}
}

func TestClassifyPush(t *testing.T) {
	human := &github.User{Login: github.Ptr("octocat"), Type: github.Ptr("User")}
	bot := &github.User{Login: github.Ptr("icf[bot]"), Type: github.Ptr("Bot")}

	tests := []struct {
		name  string
		event *github.PushEvent
		want  EventKind
	}{
		{name: "root", event: pushEvent("refs/heads/root", false, "", human), want: EventPushRoot},
		{name: "root deleted", event: pushEvent("refs/heads/root", true, "", human), want: EventUnknown},
		{name: "feature", event: pushEvent("refs/heads/feature/login", false, "", human), want: EventPushFeature},
		{name: "feature deleted", event: pushEvent("refs/heads/feature/login", true, "", human), want: EventFeatureDeleted},
		{name: "upstream", event: pushEvent("refs/heads/upstream/login", false, "", human), want: EventPushUpstream},
		{name: "upstream deleted", event: pushEvent("refs/heads/upstream/login", true, "", human), want: EventUnknown},
		{name: "tag", event: pushEvent("refs/tags/v1", false, "", human), want: EventUnknown},
		{name: "mirror default branch", event: pushEvent("refs/heads/main", false, "Mirror of octo-public/widget", human), want: EventMirrorDefaultBranchPush},
		{name: "mirror default branch by bot", event: pushEvent("refs/heads/main", false, "Mirror of octo-public/widget", bot), want: EventUnknown},
		{name: "mirror other branch", event: pushEvent("refs/heads/dev", false, "Mirror of octo-public/widget", human), want: EventUnknown},
		{name: "default branch of plain repo", event: pushEvent("refs/heads/main", false, "A widget", human), want: EventUnknown},
	}
	c := Classifier{AppID: testAppID}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.event))
		})
	}
}

func TestClassifyBotLogin(t *testing.T) {
	e := pushEvent("refs/heads/main", false, "Mirror of octo-public/widget", &github.User{Login: github.Ptr("ICF[bot]"), Type: github.Ptr("Bot")})

	assert.Equal(t, EventUnknown, Classifier{BotLogin: "icf[bot]"}.Classify(e))
	assert.Equal(t, EventMirrorDefaultBranchPush, Classifier{BotLogin: "other[bot]"}.Classify(e))
}

func TestClassifyCustomProperties(t *testing.T) {
	tests := []struct {
		name   string
		action string
		old    []*github.CustomPropertyValue
		new    []*github.CustomPropertyValue
		want   EventKind
	}{
		{name: "upstream set", action: "updated", new: []*github.CustomPropertyValue{property("upstream-repository", "oss/widget")}, want: EventCustomPropertiesUpdated},
		{name: "upstream cleared", action: "updated", old: []*github.CustomPropertyValue{property("upstream-repository", "oss/widget")}, want: EventCustomPropertiesUpdated},
		{name: "root changed", action: "updated",
			old:  []*github.CustomPropertyValue{property("root-repository", "a/widget")},
			new:  []*github.CustomPropertyValue{property("root-repository", "b/widget")},
			want: EventCustomPropertiesUpdated},
		{name: "unrelated property", action: "updated", new: []*github.CustomPropertyValue{property("team", "core")}, want: EventUnknown},
		{name: "same value", action: "updated",
			old:  []*github.CustomPropertyValue{property("upstream-repository", "oss/widget")},
			new:  []*github.CustomPropertyValue{property("upstream-repository", []interface{}{"oss/widget"})},
			want: EventUnknown},
		{name: "other action", action: "created", new: []*github.CustomPropertyValue{property("upstream-repository", "oss/widget")}, want: EventUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &github.CustomPropertyValuesEvent{Action: github.Ptr(tt.action), OldPropertyValues: tt.old, NewPropertyValues: tt.new}
			assert.Equal(t, tt.want, Classifier{}.Classify(e))
		})
	}
}

func TestClassifyCheckRun(t *testing.T) {
	run := func(action, identifier string, appID int64) *github.CheckRunEvent {
		e := &github.CheckRunEvent{
			Action:   github.Ptr(action),
			CheckRun: &github.CheckRun{App: &github.App{ID: github.Ptr(appID)}},
		}
		if identifier != "" {
			e.RequestedAction = &github.RequestedAction{Identifier: identifier}
		}
		return e
	}
	c := Classifier{AppID: testAppID}

	assert.Equal(t, EventCheckRunResync, c.Classify(run("requested_action", "resync", testAppID)))
	assert.Equal(t, EventUnknown, c.Classify(run("requested_action", "resync", 1)))
	assert.Equal(t, EventUnknown, c.Classify(run("requested_action", "other", testAppID)))
	assert.Equal(t, EventUnknown, c.Classify(run("requested_action", "", testAppID)))
	assert.Equal(t, EventUnknown, c.Classify(run("rerequested", "resync", testAppID)))
}

func TestClassifyRepository(t *testing.T) {
	repoEvent := func(action string, fork bool, description string) *github.RepositoryEvent {
		return &github.RepositoryEvent{
			Action: github.Ptr(action),
			Repo:   &github.Repository{Fork: github.Ptr(fork), Description: github.Ptr(description)},
		}
	}
	c := Classifier{}

	assert.Equal(t, EventForkCreated, c.Classify(repoEvent("created", true, "")))
	assert.Equal(t, EventMirrorRepositoryChanged, c.Classify(repoEvent("created", false, "Mirror of octo/widget")))
	assert.Equal(t, EventMirrorRepositoryChanged, c.Classify(repoEvent("edited", false, "Mirror of octo/widget")))
	assert.Equal(t, EventUnknown, c.Classify(repoEvent("edited", false, "plain")))
	assert.Equal(t, EventUnknown, c.Classify(repoEvent("deleted", false, "Mirror of octo/widget")))
	assert.Equal(t, EventUnknown, c.Classify(&github.IssuesEvent{}))
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "push_feature", EventPushFeature.String())
	assert.Equal(t, "unknown", EventKind(99).String())
}

package controllers

import (
	"strings"

	"github.com/google/go-github/v68/github"
	"github.com/samber/lo"

	"github.com/github-community-projects/internal-contribution-forks/checks"
	"github.com/github-community-projects/internal-contribution-forks/services"
)

// EventKind is the closed set of webhook deliveries the app acts on.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventCustomPropertiesUpdated
	EventPushRoot
	EventPushFeature
	EventFeatureDeleted
	EventPushUpstream
	EventCheckRunResync
	EventForkCreated
	EventMirrorRepositoryChanged
	EventMirrorDefaultBranchPush
)

var eventKindNames = map[EventKind]string{
	EventUnknown:                 "unknown",
	EventCustomPropertiesUpdated: "custom_properties_updated",
	EventPushRoot:                "push_root",
	EventPushFeature:             "push_feature",
	EventFeatureDeleted:          "feature_deleted",
	EventPushUpstream:            "push_upstream",
	EventCheckRunResync:          "check_run_resync",
	EventForkCreated:             "fork_created",
	EventMirrorRepositoryChanged: "mirror_repository_changed",
	EventMirrorDefaultBranchPush: "mirror_default_branch_push",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "unknown"
}

const (
	branchRefPrefix = "refs/heads/"
	botUserType     = "Bot"
)

// Classifier maps parsed webhook payloads to an EventKind.
type Classifier struct {
	AppID int64
	// BotLogin is the login the app pushes as. When empty any Bot sender counts.
	BotLogin string
}

func (c Classifier) Classify(event interface{}) EventKind {
	switch e := event.(type) {
	case *github.CustomPropertyValuesEvent:
		return c.classifyCustomProperties(e)
	case *github.PushEvent:
		return c.classifyPush(e)
	case *github.CheckRunEvent:
		requested := e.GetRequestedAction()
		if e.GetAction() == "requested_action" && requested != nil &&
			requested.Identifier == checks.ResyncActionID &&
			e.GetCheckRun().GetApp().GetID() == c.AppID {
			return EventCheckRunResync
		}
	case *github.RepositoryEvent:
		return c.classifyRepository(e)
	}
	return EventUnknown
}

func (c Classifier) classifyCustomProperties(e *github.CustomPropertyValuesEvent) EventKind {
	if e.GetAction() != "updated" {
		return EventUnknown
	}
	tracked := []string{services.PropertyUpstream, services.PropertyRoot}
	changed := lo.SomeBy(tracked, func(name string) bool {
		return services.PropertyString(e.OldPropertyValues, name) != services.PropertyString(e.NewPropertyValues, name)
	})
	if changed {
		return EventCustomPropertiesUpdated
	}
	return EventUnknown
}

func (c Classifier) classifyPush(e *github.PushEvent) EventKind {
	ref := e.GetRef()
	if !strings.HasPrefix(ref, branchRefPrefix) {
		return EventUnknown
	}
	branch := strings.TrimPrefix(ref, branchRefPrefix)
	deleted := e.GetDeleted()

	switch {
	case branch == services.RootBranch:
		if deleted {
			return EventUnknown
		}
		return EventPushRoot
	case strings.HasPrefix(branch, services.FeaturePrefix):
		if deleted {
			return EventFeatureDeleted
		}
		return EventPushFeature
	case strings.HasPrefix(branch, services.UpstreamPrefix):
		if deleted {
			return EventUnknown
		}
		return EventPushUpstream
	}

	if deleted || branch != e.GetRepo().GetDefaultBranch() || c.isBot(e.GetSender()) {
		return EventUnknown
	}
	if services.ParseDescriptionMetadata(e.GetRepo().GetDescription())[services.MetadataMirror] != "" {
		return EventMirrorDefaultBranchPush
	}
	return EventUnknown
}

func (c Classifier) classifyRepository(e *github.RepositoryEvent) EventKind {
	action := e.GetAction()
	if action == "created" && e.GetRepo().GetFork() {
		return EventForkCreated
	}
	if action != "created" && action != "edited" {
		return EventUnknown
	}
	if services.ParseDescriptionMetadata(e.GetRepo().GetDescription())[services.MetadataMirror] != "" {
		return EventMirrorRepositoryChanged
	}
	return EventUnknown
}

func (c Classifier) isBot(sender *github.User) bool {
	if sender == nil {
		return false
	}
	if c.BotLogin != "" {
		return strings.EqualFold(sender.GetLogin(), c.BotLogin)
	}
	return sender.GetType() == botUserType
}

// branchName strips refs/heads/ from a push ref.
func branchName(ref string) string {
	return strings.TrimPrefix(ref, branchRefPrefix)
}

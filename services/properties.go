package services

import (
	"github.com/google/go-github/v68/github"
	"github.com/samber/lo"
	"github.com/spf13/cast"
)

const (
	PropertyUpstream = "upstream-repository"
	PropertyRoot     = "root-repository"
	// PropertyFork holds the owner/repo of the fork a mirror was created from.
	PropertyFork = "fork"

	RootBranch     = "root"
	FeaturePrefix  = "feature/"
	UpstreamPrefix = "upstream/"
)

// PropertyString returns the value of a custom property as a string. Multi
// select values yield their first entry, a missing property yields "".
func PropertyString(values []*github.CustomPropertyValue, name string) string {
	value, ok := lo.Find(values, func(v *github.CustomPropertyValue) bool {
		return v != nil && v.PropertyName == name
	})
	if !ok {
		return ""
	}
	return propertyValueString(value.Value)
}

func propertyValueString(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case []string, []interface{}:
		if values := cast.ToStringSlice(v); len(values) > 0 {
			return values[0]
		}
		return ""
	default:
		return cast.ToString(v)
	}
}

// PropertyMap flattens a repository's custom_properties payload field.
func PropertyMap(properties map[string]interface{}) map[string]string {
	return lo.MapValues(properties, func(value interface{}, _ string) string {
		return propertyValueString(value)
	})
}

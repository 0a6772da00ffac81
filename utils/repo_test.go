package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRepoRef(t *testing.T) {
	tests := []struct {
		in      string
		want    RepoRef
		wantErr bool
	}{
		{in: "octo/widget", want: RepoRef{Owner: "octo", Name: "widget"}},
		{in: "https://github.com/octo/widget.git", want: RepoRef{Owner: "octo", Name: "widget"}},
		{in: "https://github.com/octo/widget/", want: RepoRef{Owner: "octo", Name: "widget"}},
		{in: "git@github.com:octo/widget.git", want: RepoRef{Owner: "octo", Name: "widget"}},
		{in: " octo/widget ", want: RepoRef{Owner: "octo", Name: "widget"}},
		{in: "", wantErr: true},
		{in: "widget", wantErr: true},
		{in: "https://github.com/octo/widget/tree/main", wantErr: true},
		{in: "git@github.com", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRepoRef(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRepoRefURLs(t *testing.T) {
	r := RepoRef{Owner: "octo", Name: "widget"}
	assert.Equal(t, "octo/widget", r.FullName())
	assert.Equal(t, "https://github.com/octo/widget.git", r.CloneURL())
}

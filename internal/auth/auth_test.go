package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		want   string
		wantOK bool
	}{
		{name: "valid", header: "Bearer abc123", want: "abc123", wantOK: true},
		{name: "empty", header: "", wantOK: false},
		{name: "no_prefix", header: "abc123", wantOK: false},
		{name: "wrong_scheme", header: "Basic abc123", wantOK: false},
		{name: "empty_token", header: "Bearer ", wantOK: false},
		{name: "padded_token", header: "Bearer   abc123  ", want: "abc123", wantOK: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			token, ok := BearerToken(tc.header)
			require.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				require.Equal(t, tc.want, token)
			}
		})
	}
}

func TestCheckServiceSecret(t *testing.T) {
	t.Parallel()

	newRequest := func(header string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/jobs/close-expired-bids", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		return r
	}

	require.NoError(t, CheckServiceSecret(newRequest("Bearer s3cret"), "s3cret"))
	require.Error(t, CheckServiceSecret(newRequest("Bearer wrong"), "s3cret"))
	require.Error(t, CheckServiceSecret(newRequest(""), "s3cret"))
	require.Error(t, CheckServiceSecret(newRequest("s3cret"), "s3cret"))
	// An unset secret rejects everything instead of matching empty tokens
	require.Error(t, CheckServiceSecret(newRequest("Bearer "), ""))
	require.Error(t, CheckServiceSecret(newRequest("Bearer anything"), ""))
}

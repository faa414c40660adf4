package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firewatch/firewatch/internal/common/logger"
)

func testClient(t *testing.T, handler http.HandlerFunc) *PATClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewPATClient("test-token", logger.Default(),
		WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
}

func TestDoSendsAuthAndAcceptHeaders(t *testing.T) {
	var gotAuth, gotAccept string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		fmt.Fprint(w, `{}`)
	})

	_, _, err := c.do(context.Background(), http.MethodGet, c.apiBase+"/rate_limit", nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "application/vnd.github+json", gotAccept)
}

func TestDoRetriesServerErrors(t *testing.T) {
	var calls int
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	})

	body, _, err := c.do(context.Background(), http.MethodGet, c.apiBase+"/x", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, 3, calls)
}

func TestDoGivesUpAfterMaxRetries(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	c := NewPATClient("t", logger.Default(),
		WithBaseURL(srv.URL), WithHTTPClient(srv.Client()), WithMaxRetries(1))

	_, _, err := c.do(context.Background(), http.MethodGet, c.apiBase+"/x", nil)
	var te *TransientError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 2, calls, "initial attempt plus one retry")
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		headers map[string]string
		body    string
		check   func(t *testing.T, err error)
	}{
		{
			name: "unauthorized", status: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				var ae *AuthError
				require.ErrorAs(t, err, &ae)
			},
		},
		{
			name: "forbidden", status: http.StatusForbidden,
			check: func(t *testing.T, err error) {
				var ae *AuthError
				require.ErrorAs(t, err, &ae)
			},
		},
		{
			name: "rate limited", status: http.StatusForbidden,
			headers: map[string]string{
				"X-Ratelimit-Remaining": "0",
				"X-Ratelimit-Reset":     strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10),
			},
			check: func(t *testing.T, err error) {
				var re *RateLimitError
				require.ErrorAs(t, err, &re)
				assert.True(t, re.Reset.After(time.Now()))
			},
		},
		{
			name: "not found", status: http.StatusNotFound,
			check: func(t *testing.T, err error) {
				var ne *NotFoundError
				require.ErrorAs(t, err, &ne)
				assert.True(t, IsNotFound(err))
			},
		},
		{
			name: "unprocessable", status: http.StatusUnprocessableEntity,
			body: `{"message":"Validation Failed"}`,
			check: func(t *testing.T, err error) {
				var ce *ConflictError
				require.ErrorAs(t, err, &ce)
				assert.Contains(t, ce.Msg, "Validation Failed")
			},
		},
		{
			name: "teapot", status: http.StatusTeapot,
			body: `{"message":"nope"}`,
			check: func(t *testing.T, err error) {
				var pe *PermanentError
				require.ErrorAs(t, err, &pe)
				assert.Equal(t, http.StatusTeapot, pe.StatusCode)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})
			_, _, err := c.do(context.Background(), http.MethodGet, c.apiBase+"/x", nil)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestRateLimitAdaptation(t *testing.T) {
	reset := time.Now().Add(100 * time.Second).Unix()
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Ratelimit-Remaining", "50")
		w.Header().Set("X-Ratelimit-Reset", strconv.FormatInt(reset, 10))
		fmt.Fprint(w, `{}`)
	})

	_, _, err := c.do(context.Background(), http.MethodGet, c.apiBase+"/x", nil)
	require.NoError(t, err)
	// 50 requests over ~100s leaves roughly 0.5 req/s.
	assert.InDelta(t, 0.5, float64(c.limiter.Limit()), 0.1)
}

func TestGraphQLErrorMapping(t *testing.T) {
	tests := []struct {
		name  string
		errJS string
		check func(t *testing.T, err error)
	}{
		{
			name:  "not found",
			errJS: `{"type":"NOT_FOUND","message":"Could not resolve to a node"}`,
			check: func(t *testing.T, err error) { assert.True(t, IsNotFound(err)) },
		},
		{
			name:  "already resolved",
			errJS: `{"message":"Thread was already resolved"}`,
			check: func(t *testing.T, err error) { assert.True(t, IsConflict(err)) },
		},
		{
			name:  "forbidden",
			errJS: `{"type":"FORBIDDEN","message":"Resource not accessible"}`,
			check: func(t *testing.T, err error) {
				var ae *AuthError
				require.ErrorAs(t, err, &ae)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintf(w, `{"data":null,"errors":[%s]}`, tt.errJS)
			})
			err := c.ResolveReviewThread(context.Background(), "THREAD_1")
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestResolveReviewThreadSendsMutation(t *testing.T) {
	var gotQuery string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req graphqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotQuery = req.Query
		fmt.Fprint(w, `{"data":{"resolveReviewThread":{"thread":{"id":"THREAD_1"}}}}`)
	})

	require.NoError(t, c.ResolveReviewThread(context.Background(), "THREAD_1"))
	assert.Contains(t, gotQuery, "resolveReviewThread")
}

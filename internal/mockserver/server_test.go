package mockserver

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func post(t *testing.T, url, body string) (int, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

const createBody = `{"query":"mutation($in:CreateTemplateInput!){createTemplate(input:$in){template{id status}}}","variables":{"in":{"name":"svc-test"}}}`

func getBody(id string) string {
	return `{"query":"query($id:ID!){getTemplate(id:$id){template{status zipUrl}}}","variables":{"id":"` + id + `"}}`
}

func TestServer_CreateThenPollToCompletion(t *testing.T) {
	s := New(Config{PollsToComplete: 3}, nil)
	ts := httptest.NewServer(s)
	defer ts.Close()

	code, body := post(t, ts.URL, createBody)
	require.Equal(t, http.StatusOK, code)
	id := gjson.GetBytes(body, "data.createTemplate.template.id").String()
	require.NotEmpty(t, id)
	assert.Equal(t, "PENDING", gjson.GetBytes(body, "data.createTemplate.template.status").String())

	var statuses []string
	for i := 0; i < 3; i++ {
		_, body = post(t, ts.URL, getBody(id))
		statuses = append(statuses, gjson.GetBytes(body, "data.getTemplate.template.status").String())
	}
	assert.Equal(t, []string{"GENERATING", "GENERATING", "COMPLETED"}, statuses)
	assert.Contains(t, gjson.GetBytes(body, "data.getTemplate.template.zipUrl").String(), id)

	assert.Equal(t, int64(1), s.Creates())
	assert.Equal(t, int64(3), s.Polls())
	assert.Equal(t, 1, s.Templates())
}

func TestServer_InjectedFailures(t *testing.T) {
	t.Run("create failure", func(t *testing.T) {
		ts := httptest.NewServer(New(Config{CreateFailureRatio: 1}, nil))
		defer ts.Close()

		code, body := post(t, ts.URL, createBody)
		assert.Equal(t, http.StatusInternalServerError, code)
		assert.Equal(t, "injected failure", gjson.GetBytes(body, "errors.0.message").String())
	})

	t.Run("missing id", func(t *testing.T) {
		ts := httptest.NewServer(New(Config{MissingIDRatio: 1}, nil))
		defer ts.Close()

		_, body := post(t, ts.URL, createBody)
		assert.False(t, gjson.GetBytes(body, "data.createTemplate.template.id").Exists())
		assert.Equal(t, "PENDING", gjson.GetBytes(body, "data.createTemplate.template.status").String())
	})

	t.Run("failed terminal", func(t *testing.T) {
		ts := httptest.NewServer(New(Config{PollsToComplete: 1, FailedRatio: 1}, nil))
		defer ts.Close()

		_, body := post(t, ts.URL, createBody)
		id := gjson.GetBytes(body, "data.createTemplate.template.id").String()
		_, body = post(t, ts.URL, getBody(id))
		assert.Equal(t, "FAILED", gjson.GetBytes(body, "data.getTemplate.template.status").String())
	})
}

func TestServer_UnknownTemplate(t *testing.T) {
	ts := httptest.NewServer(New(DefaultConfig(), nil))
	defer ts.Close()

	code, body := post(t, ts.URL, getBody("nope"))
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, gjson.GetBytes(body, "data.getTemplate.success").Bool())
	assert.Equal(t, "template not found", gjson.GetBytes(body, "data.getTemplate.message").String())
}

func TestServer_RejectsBadRequests(t *testing.T) {
	ts := httptest.NewServer(New(DefaultConfig(), nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	code, _ := post(t, ts.URL, "{not json")
	assert.Equal(t, http.StatusBadRequest, code)
}

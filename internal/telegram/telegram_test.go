package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"admin-activead/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "123:ABC"

type recordedCall struct {
	Method string
	Body   map[string]any
}

type fakeAPI struct {
	mu      sync.Mutex
	calls   []recordedCall
	replies map[string]func(body map[string]any) (int, string)
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	api := &fakeAPI{replies: map[string]func(map[string]any) (int, string){}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix := "/bot" + testToken + "/"
		if !strings.HasPrefix(r.URL.Path, prefix) {
			http.NotFound(w, r)
			return
		}
		method := strings.TrimPrefix(r.URL.Path, prefix)

		var body map[string]any
		data, _ := io.ReadAll(r.Body)
		if len(data) > 0 {
			_ = json.Unmarshal(data, &body)
		}

		api.mu.Lock()
		api.calls = append(api.calls, recordedCall{Method: method, Body: body})
		reply := api.replies[method]
		api.mu.Unlock()

		status, resp := http.StatusOK, `{"ok":true,"result":true}`
		if reply != nil {
			status, resp = reply(body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, resp)
	}))
	t.Cleanup(srv.Close)
	return api, srv
}

func (f *fakeAPI) on(method string, fn func(body map[string]any) (int, string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[method] = fn
}

func (f *fakeAPI) callsTo(method string) []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedCall
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func TestClient_GetMe(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.on("getMe", func(map[string]any) (int, string) {
		return 200, `{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"AD Bot","username":"ad_bot"}}`
	})

	c := NewClient(srv.URL+"/", testToken, time.Second)
	me, err := c.GetMe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), me.ID)
	assert.Equal(t, "ad_bot", me.Username)
}

func TestClient_SendMessage(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.on("sendMessage", func(body map[string]any) (int, string) {
		return 200, `{"ok":true,"result":{"message_id":7,"chat":{"id":100,"type":"private"},"text":"hi"}}`
	})

	c := NewClient(srv.URL, testToken, time.Second)
	markup := &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{
		{{Text: "Показать пароль", CallbackData: "showpwd:abc"}},
	}}
	msg, err := c.SendMessage(context.Background(), 100, "hi", markup)
	require.NoError(t, err)
	assert.Equal(t, int64(7), msg.MessageID)

	calls := api.callsTo("sendMessage")
	require.Len(t, calls, 1)
	assert.Equal(t, float64(100), calls[0].Body["chat_id"])
	assert.Equal(t, "hi", calls[0].Body["text"])
	require.Contains(t, calls[0].Body, "reply_markup")

	_, err = c.SendMessage(context.Background(), 100, "plain", nil)
	require.NoError(t, err)
	calls = api.callsTo("sendMessage")
	assert.NotContains(t, calls[1].Body, "reply_markup")
}

func TestClient_APIError(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.on("sendMessage", func(map[string]any) (int, string) {
		return 429, `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 3","parameters":{"retry_after":3}}`
	})

	c := NewClient(srv.URL, testToken, time.Second)
	_, err := c.SendMessage(context.Background(), 1, "x", nil)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 429, apiErr.Code)
	assert.Equal(t, 3, apiErr.RetryAfter)
	assert.Contains(t, err.Error(), "Too Many Requests")
}

func TestClient_EditAndAnswer(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.on("editMessageText", func(map[string]any) (int, string) {
		return 200, `{"ok":true,"result":{"message_id":5,"chat":{"id":1,"type":"private"}}}`
	})

	c := NewClient(srv.URL, testToken, time.Second)
	require.NoError(t, c.EditMessageText(context.Background(), 1, 5, "done", nil))
	require.NoError(t, c.AnswerCallbackQuery(context.Background(), "cb1", "Access denied", true))

	edits := api.callsTo("editMessageText")
	require.Len(t, edits, 1)
	assert.Equal(t, float64(5), edits[0].Body["message_id"])

	answers := api.callsTo("answerCallbackQuery")
	require.Len(t, answers, 1)
	assert.Equal(t, "cb1", answers[0].Body["callback_query_id"])
	assert.Equal(t, true, answers[0].Body["show_alert"])
}

func TestPoller_Run(t *testing.T) {
	api, srv := newFakeAPI(t)

	var (
		mu      sync.Mutex
		polls   int
		offsets []float64
	)
	api.on("getUpdates", func(body map[string]any) (int, string) {
		mu.Lock()
		defer mu.Unlock()
		offset, _ := body["offset"].(float64)
		offsets = append(offsets, offset)
		polls++
		switch polls {
		case 1:
			// pending backlog: only the newest is returned for offset -1
			return 200, `{"ok":true,"result":[{"update_id":9,"message":{"message_id":1,"chat":{"id":1,"type":"private"},"text":"old"}}]}`
		case 2:
			return 502, `{"ok":false,"error_code":502,"description":"Bad Gateway"}`
		case 3:
			return 200, `{"ok":true,"result":[
				{"update_id":10,"message":{"message_id":2,"from":{"id":5,"first_name":"A"},"chat":{"id":5,"type":"private"},"text":"/start"}},
				{"update_id":11,"callback_query":{"id":"q","from":{"id":5,"first_name":"A"},"data":"super:list"}}]}`
		default:
			return 200, `{"ok":true,"result":[]}`
		}
	})

	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	p := NewPoller(NewClient(srv.URL, testToken, 2*time.Second), 0, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Update, 10)
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, func(u Update) { got <- u }) }()

	var updates []Update
	for len(updates) < 2 {
		select {
		case u := <-got:
			updates = append(updates, u)
		case <-time.After(5 * time.Second):
			t.Fatal("updates not delivered")
		}
	}
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, int64(10), updates[0].UpdateID)
	assert.Equal(t, "/start", updates[0].Message.Text)
	require.NotNil(t, updates[1].CallbackQuery)
	assert.Equal(t, "super:list", updates[1].CallbackQuery.Data)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, float64(-1), offsets[0])
	assert.Equal(t, float64(10), offsets[1], "backlog must be confirmed")
	if len(offsets) > 3 {
		assert.Equal(t, float64(12), offsets[3])
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollErrors))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.UpdatesReceived))
}

package mail

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"admin-activead/internal/ad"
	"admin-activead/internal/common"
	"admin-activead/internal/db"
	"admin-activead/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMailbox struct {
	mu     sync.Mutex
	msgs   []Message
	seen   []uint32
	closed bool
}

func (f *fakeMailbox) FetchUnseen(ctx context.Context) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.msgs, nil
}

func (f *fakeMailbox) MarkSeen(ctx context.Context, uids []uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, uids...)
	return nil
}

func (f *fakeMailbox) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type scheduled struct {
	sam       string
	runAt     time.Time
	createdBy int64
	meta      map[string]any
}

type fakeScheduler struct {
	mu   sync.Mutex
	jobs []scheduled
}

func (f *fakeScheduler) Schedule(ctx context.Context, sam string, runAt time.Time, createdBy int64, meta map[string]any) (db.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, scheduled{sam, runAt, createdBy, meta})
	return db.Job{ID: int64(len(f.jobs)), SAM: sam, RunAt: runAt, Status: common.JobStatusScheduled}, nil
}

type fakeDirectory struct {
	users map[string][]ad.User
}

func (f *fakeDirectory) SearchCandidates(ctx context.Context, query string, limit int) ([]ad.User, error) {
	return f.users[query], nil
}

func newTestChecker(mb Mailbox, sched Scheduler, dir Directory, m *metrics.Metrics) *Checker {
	c := NewChecker(Options{
		Dial:         func(ctx context.Context) (Mailbox, error) { return mb, nil },
		Scheduler:    sched,
		Directory:    dir,
		Location:     time.UTC,
		DisableHour:  16,
		SuperAdminID: 1,
		Interval:     time.Hour,
		Metrics:      m,
	})
	c.now = func() time.Time { return time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC) }
	return c
}

func TestPoll_MarksOnlyProcessedMailSeen(t *testing.T) {
	mb := &fakeMailbox{msgs: []Message{
		{UID: 10, MessageID: "<hr-1@corp>", Subject: "Кадры", Body: "Просьба уволить Иванов Иван Иванович 1 июля 2024"},
		{UID: 11, MessageID: "<spam@corp>", Subject: "Новости", Body: "Неразборчивое письмо без нужных данных"},
		{UID: 12, MessageID: "<hr-2@corp>", Subject: "Увольнение", Body: "Последний рабочий день 15.07.2024, sam: p.petrov"},
	}}
	sched := &fakeScheduler{}
	dir := &fakeDirectory{users: map[string][]ad.User{
		"Иванов Иван Иванович": {{SamAccountName: "iivanov", DisplayName: "Иванов Иван Иванович"}},
	}}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	c := newTestChecker(mb, sched, dir, m)

	n, err := c.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []uint32{10, 12}, mb.seen)
	assert.True(t, mb.closed)

	require.Len(t, sched.jobs, 2)
	first := sched.jobs[0]
	assert.Equal(t, "iivanov", first.sam)
	assert.Equal(t, time.Date(2024, 7, 1, 16, 0, 0, 0, time.UTC), first.runAt)
	assert.Equal(t, int64(1), first.createdBy)
	assert.Equal(t, common.SourceEmail, first.meta["source"])
	assert.Equal(t, "<hr-1@corp>", first.meta["message_id"])

	assert.Equal(t, "p.petrov", sched.jobs[1].sam)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MailProcessed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MailPolls))
}

func TestPoll_UnknownEmployeeStaysUnseen(t *testing.T) {
	mb := &fakeMailbox{msgs: []Message{
		{UID: 5, MessageID: "<x@corp>", Body: "Просьба уволить Сидоров Пётр 1 июля 2024"},
	}}
	sched := &fakeScheduler{}
	c := newTestChecker(mb, sched, &fakeDirectory{}, nil)

	n, err := c.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, mb.seen)
	assert.Empty(t, sched.jobs)
}

func TestPoll_DialError(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	c := NewChecker(Options{
		Dial:    func(ctx context.Context) (Mailbox, error) { return nil, errors.New("connection refused") },
		Metrics: m,
	})

	_, err := c.Poll(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MailErrors))
}

func TestRun_Disabled(t *testing.T) {
	c := NewChecker(Options{})
	assert.NoError(t, c.Run(context.Background()))
}

func TestRun_StopsOnCancel(t *testing.T) {
	polled := make(chan struct{}, 1)
	c := NewChecker(Options{
		Dial: func(ctx context.Context) (Mailbox, error) {
			select {
			case polled <- struct{}{}:
			default:
			}
			return &fakeMailbox{}, nil
		},
		Interval: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-polled:
	case <-time.After(2 * time.Second):
		t.Fatal("checker did not poll on start")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("checker did not stop")
	}
}

func TestParseMessage_Plain(t *testing.T) {
	raw := "Message-ID: <abc@corp.local>\r\n" +
		"Subject: =?UTF-8?B?0KPQstC+0LvRjNC90LXQvdC40LU=?=\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Просьба уволить Иванов Иван Иванович 1 июля 2024\r\n"

	msg, err := ParseMessage(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "abc@corp.local", msg.MessageID)
	assert.Equal(t, "Увольнение", msg.Subject)
	assert.Contains(t, msg.Body, "Иванов Иван Иванович")
}

func TestParseMessage_Multipart(t *testing.T) {
	raw := "Message-ID: <multi@corp.local>\r\n" +
		"Subject: HR\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/alternative; boundary=XYZ\r\n" +
		"\r\n" +
		"--XYZ\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>html</p>\r\n" +
		"--XYZ\r\n" +
		"Content-Type: text/plain; charset=koi8-r\r\n" +
		"Content-Transfer-Encoding: 8bit\r\n" +
		"\r\n" +
		"\xf5\xd7\xcf\xcc\xc9\xd4\xd8\r\n" +
		"--XYZ--\r\n"

	msg, err := ParseMessage(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "HR", msg.Subject)
	assert.Contains(t, msg.Body, "Уволить")
}

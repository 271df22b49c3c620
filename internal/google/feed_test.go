package google

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

func TestToEvent(t *testing.T) {
	item := &calendar.Event{
		Id:           "abc",
		ICalUID:      "abc@google.com",
		Summary:      "Review",
		Description:  "Quarterly",
		Location:     "Room 1",
		HtmlLink:     "https://calendar.google.com/event?eid=abc",
		Status:       "confirmed",
		Visibility:   "private",
		Transparency: "transparent",
		Sequence:     3,
		Organizer:    &calendar.EventOrganizer{Email: "boss@example.com", DisplayName: "Boss"},
		Start:        &calendar.EventDateTime{DateTime: "2024-01-10T10:00:00+01:00"},
		End:          &calendar.EventDateTime{DateTime: "2024-01-10T11:00:00+01:00"},
		Created:      "2023-12-01T08:00:00.000Z",
		Updated:      "2023-12-02T08:00:00.000Z",
		Attendees: []*calendar.EventAttendee{
			{Email: "a@example.com", DisplayName: "Alice", ResponseStatus: "needsAction"},
			{Email: ""},
		},
		Attachments: []*calendar.EventAttachment{{FileUrl: "https://drive/x", MimeType: "application/pdf"}},
	}

	ev, err := toEvent(item, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "abc@google.com", ev.UID)
	assert.Equal(t, "Review", ev.Summary)
	assert.Equal(t, "CONFIRMED", ev.Status)
	assert.Equal(t, "PRIVATE", ev.Class)
	assert.Equal(t, "TRANSPARENT", ev.Transparency)
	assert.Equal(t, 3, ev.Sequence)
	assert.Equal(t, "mailto:boss@example.com", ev.Organizer.Value)
	assert.Equal(t, []string{"Boss"}, ev.Organizer.Params["CN"])
	assert.True(t, ev.Start.Equal(time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)))
	assert.True(t, ev.End.Equal(time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)))
	assert.False(t, ev.AllDay)
	require.NotNil(t, ev.Created)
	require.NotNil(t, ev.LastModified)
	require.NotNil(t, ev.Stamp)
	assert.True(t, ev.Stamp.Equal(*ev.LastModified))
	assert.NotSame(t, ev.LastModified, ev.Stamp)
	assert.Nil(t, ev.RecurrenceID)

	require.Len(t, ev.Attendees, 1)
	assert.Equal(t, []string{"NEEDS-ACTION"}, ev.Attendees[0].Params["PARTSTAT"])
	require.Len(t, ev.Attachments, 1)
	assert.Equal(t, []string{"application/pdf"}, ev.Attachments[0].Params["FMTTYPE"])
}

func TestToEventRecurringInstance(t *testing.T) {
	item := &calendar.Event{
		Id:                "series_20240110",
		ICalUID:           "series@google.com",
		RecurringEventId:  "series",
		Start:             &calendar.EventDateTime{Date: "2024-01-10", TimeZone: "America/New_York"},
		End:               &calendar.EventDateTime{Date: "2024-01-11"},
		OriginalStartTime: &calendar.EventDateTime{Date: "2024-01-10"},
		Visibility:        "default",
	}
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	ev, err := toEvent(item, berlin)
	require.NoError(t, err)
	assert.Equal(t, "series_20240110@google.com", ev.UID)
	assert.True(t, ev.AllDay)
	assert.Equal(t, "", ev.Class)

	assert.True(t, ev.Start.Equal(time.Date(2024, 1, 10, 0, 0, 0, 0, berlin)))
	assert.True(t, ev.End.Equal(time.Date(2024, 1, 11, 0, 0, 0, 0, berlin)))
	require.NotNil(t, ev.RecurrenceID)
}

func TestToEventRejectsBadTimes(t *testing.T) {
	_, err := toEvent(&calendar.Event{Id: "x", Start: &calendar.EventDateTime{DateTime: "tomorrow"}}, time.UTC)
	assert.Error(t, err)
}

func TestFeedLoadFollowsPages(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		assert.Equal(t, "true", r.URL.Query().Get("singleEvents"))
		page := calendar.Events{Items: []*calendar.Event{{
			Id:      "second",
			ICalUID: "second@google.com",
			Summary: "Second",
			Start:   &calendar.EventDateTime{DateTime: "2024-01-11T10:00:00Z"},
		}}}
		if r.URL.Query().Get("pageToken") == "" {
			page = calendar.Events{
				NextPageToken: "p2",
				Items: []*calendar.Event{
					{Id: "first", ICalUID: "first@google.com", Summary: "First", Start: &calendar.EventDateTime{DateTime: "2024-01-10T10:00:00Z"}},
					{Id: "broken", Start: &calendar.EventDateTime{DateTime: "nope"}},
				},
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	ctx := context.Background()
	service, err := calendar.NewService(ctx, option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	client := NewClientWithService(slog.New(slog.NewTextHandler(io.Discard, nil)), service)
	feed := NewFeed(client, "google", "primary", "family", 0, nil)
	assert.Equal(t, "google", feed.Name())

	events, release, err := feed.Load(ctx)
	require.NoError(t, err)
	release()

	assert.Equal(t, 2, requests)
	require.Len(t, events, 2)
	assert.Equal(t, "first@google.com", events[0].UID)
	assert.Equal(t, "second@google.com", events[1].UID)
	assert.Equal(t, "family", events[1].Group)
}

func TestTokenFiles(t *testing.T) {
	dir := t.TempDir()
	tok := &oauth2.Token{AccessToken: "at", RefreshToken: "rt", TokenType: "Bearer"}
	require.NoError(t, SaveToken(TokenPath(dir, "work"), tok))

	assert.Equal(t, filepath.Join(dir, "token-work.json"), TokenPath(dir, "work"))

	loaded, err := tokenFromFile(TokenPath(dir, "work"))
	require.NoError(t, err)
	assert.Equal(t, "rt", loaded.RefreshToken)

	accounts, err := GetTokenAccounts(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"work"}, accounts)
}

func TestTokenFileErrorsNameThePath(t *testing.T) {
	dir := t.TempDir()

	missing := TokenPath(dir, "nobody")
	_, err := tokenFromFile(missing)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.Contains(t, err.Error(), missing)

	corrupt := TokenPath(dir, "corrupt")
	require.NoError(t, os.WriteFile(corrupt, []byte("{"), 0o600))
	_, err = tokenFromFile(corrupt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), corrupt)

	empty := TokenPath(dir, "empty")
	require.NoError(t, os.WriteFile(empty, []byte("{}"), 0o600))
	_, err = tokenFromFile(empty)
	assert.ErrorContains(t, err, "holds no token")

	err = SaveToken(filepath.Join(dir, "missing-dir", "token-x.json"), &oauth2.Token{AccessToken: "at"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing-dir")
}

func TestOAuthConfigFromClientSecret(t *testing.T) {
	cfg, err := GetOAuthConfigForAuthFlow("id", "secret")
	require.NoError(t, err)
	assert.Equal(t, "id", cfg.ClientID)
	assert.Equal(t, redirectURL, cfg.RedirectURL)
	assert.Equal(t, []string{calendar.CalendarReadonlyScope}, cfg.Scopes)
}

func TestNewClientWithoutTokenFails(t *testing.T) {
	_, err := NewClient(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), "id", "secret", t.TempDir(), "work")
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.Contains(t, err.Error(), "token-work.json")
}

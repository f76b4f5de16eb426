package board

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"github.com/onnwee/commentcast/testutil"
)

func TestParseThreadURL(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		wantKind Kind
		wantData string
		wantErr  bool
	}{
		{
			name:     "2ch with range suffix",
			in:       "https://mevius.5ch.net/test/read.cgi/livejupiter/1700000000/l50",
			wantKind: Kind2ch,
			wantData: "https://mevius.5ch.net/livejupiter/dat/1700000000.dat",
		},
		{
			name:     "shitaraba",
			in:       "https://jbbs.shitaraba.jp/bbs/read.cgi/game/12345/1600000000/",
			wantKind: KindShitaraba,
			wantData: "https://jbbs.shitaraba.jp/bbs/rawmode.cgi/game/12345/1600000000/",
		},
		{name: "board top is not a thread", in: "https://mevius.5ch.net/livejupiter/", wantErr: true},
		{name: "garbage", in: "not a url", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th, err := ParseThreadURL(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnsupportedURL)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantKind, th.Kind)
			require.Equal(t, tt.wantData, th.DataURL(0))
		})
	}
}

func TestThreadURLs(t *testing.T) {
	th, err := ParseThreadURL("https://jbbs.shitaraba.jp/bbs/read.cgi/game/12345/1600000000/")
	require.NoError(t, err)
	require.Equal(t, "https://jbbs.shitaraba.jp/bbs/rawmode.cgi/game/12345/1600000000/11-", th.DataURL(10))
	require.Equal(t, "https://jbbs.shitaraba.jp/game/12345/subject.txt", th.SubjectURL())
	require.True(t, SameThread("https://jbbs.shitaraba.jp/bbs/read.cgi/game/12345/1600000000/l50", th.URL()))
	require.False(t, SameThread(th.URL(), th.WithKey("1600000001").URL()))
}

func TestClient_FetchResponses2ch(t *testing.T) {
	board := testutil.NewMockBoard(t)
	board.SetThread("100",
		testutil.DatLine("名無しさん</b>◆trip<b>", "2024/01/01(月) 12:00:00.00 ID:abcd", " スレ立て <br> よろしく ", "テストスレ"),
		testutil.DatLine("名無しさん", "2024/01/01(月) 12:00:05.00 ID:efgh", "&gt;&gt;1 乙", ""),
		testutil.DatLine("名無しさん", "2024/01/01(月) 12:00:09.00", "三番目", ""),
	)
	c := NewClient()

	all, err := c.FetchResponses(context.Background(), board.ThreadURL("100"), 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "1", all[0].Number)
	require.Equal(t, "名無しさん◆trip", all[0].Name)
	require.Equal(t, "abcd", all[0].ID)
	require.Equal(t, "2024/01/01(月) 12:00:00.00", all[0].Date)
	require.Equal(t, "スレ立て <br> よろしく", all[0].Text)
	require.Equal(t, "テストスレ", all[0].ThreadTitle)
	require.Equal(t, "&gt;&gt;1 乙", all[1].Text)

	newer, err := c.FetchResponses(context.Background(), board.ThreadURL("100"), 2)
	require.NoError(t, err)
	require.Len(t, newer, 1)
	require.Equal(t, "3", newer[0].Number)
	require.Empty(t, newer[0].ID)
}

func TestClient_FetchResponsesErrors(t *testing.T) {
	board := testutil.NewMockBoard(t)
	c := NewClient()

	_, err := c.FetchResponses(context.Background(), board.ThreadURL("missing"), 0)
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, http.StatusNotFound, fe.StatusCode)
	require.Equal(t, ErrorClassFatal, ClassifyFetchError(err))

	board.FailWith(http.StatusServiceUnavailable)
	_, err = c.FetchResponses(context.Background(), board.ThreadURL("missing"), 0)
	require.Equal(t, ErrorClassRetryable, ClassifyFetchError(err))

	row := ErrorRow(err)
	require.False(t, row.HasNumber())
	require.Contains(t, row.Text, "503")
}

func TestClient_FetchThreadList(t *testing.T) {
	board := testutil.NewMockBoard(t)
	board.SetSubjects(
		"200.dat<>次スレ (12)",
		"100.dat<>テストスレ (1000)",
		"300.dat<>(笑) 雑談 (5)",
	)
	list, err := NewClient().FetchThreadList(context.Background(), board.ThreadURL("100"))
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, ThreadSummary{URL: board.ThreadURL("200"), Title: "次スレ", ResponseCount: 12}, list[0])
	require.Equal(t, 1000, list[1].ResponseCount)
	require.Equal(t, "(笑) 雑談", list[2].Title)
}

func eucJP(t *testing.T, s string) []byte {
	t.Helper()
	out, _, err := transform.String(japanese.EUCJP.NewEncoder(), s)
	require.NoError(t, err)
	return []byte(out)
}

func TestClient_Shitaraba(t *testing.T) {
	var (
		mu       sync.Mutex
		lastPath string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		lastPath = r.URL.Path
		mu.Unlock()
		w.Header().Set("Content-Type", "text/plain; charset=EUC-JP")
		switch r.URL.Path {
		case "/bbs/rawmode.cgi/game/1/500/":
			_, _ = w.Write(eucJP(t, "1<>名無し<>sage<>2024/01/01<>こんにちは<>したらばスレ<>xyz\n2<>名無し<><>2024/01/01<>二番<><>abc\n"))
		case "/bbs/rawmode.cgi/game/1/500/2-":
			_, _ = w.Write(eucJP(t, "2<>名無し<><>2024/01/01<>二番<><>abc\n"))
		case "/game/1/subject.txt":
			_, _ = w.Write(eucJP(t, "500.cgi,したらばスレ(2)\n600.cgi,次(0)\n500.cgi,したらばスレ(2)\n"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	threadURL := srv.URL + "/bbs/read.cgi/game/1/500/"
	c := NewClient()

	all, err := c.FetchResponses(context.Background(), threadURL, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "したらばスレ", all[0].ThreadTitle)
	require.Equal(t, "xyz", all[0].ID)
	require.Equal(t, "sage", all[0].Email)

	newer, err := c.FetchResponses(context.Background(), threadURL, 1)
	require.NoError(t, err)
	mu.Lock()
	require.Equal(t, "/bbs/rawmode.cgi/game/1/500/2-", lastPath)
	mu.Unlock()
	require.Len(t, newer, 1)
	require.Equal(t, "2", newer[0].Number)

	list, err := c.FetchThreadList(context.Background(), threadURL)
	require.NoError(t, err)
	require.Len(t, list, 2, "repeated trailing entry is dropped")
	require.Equal(t, srv.URL+"/bbs/read.cgi/game/1/600/", list[1].URL)
}

func TestClassifyFetchError(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorClass
	}{
		{nil, ErrorClassUnknown},
		{&FetchError{StatusCode: 410}, ErrorClassFatal},
		{&FetchError{StatusCode: 429}, ErrorClassRetryable},
		{&FetchError{StatusCode: 502}, ErrorClassRetryable},
		{&FetchError{StatusCode: 418}, ErrorClassUnknown},
		{ErrUnsupportedURL, ErrorClassFatal},
		{context.DeadlineExceeded, ErrorClassRetryable},
		{errors.New("dial tcp: connection refused"), ErrorClassRetryable},
		{errors.New("something odd"), ErrorClassUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyFetchError(tt.err); got != tt.want {
			t.Errorf("ClassifyFetchError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

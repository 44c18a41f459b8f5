package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"nriva-archiver/lib/fetch"
	"nriva-archiver/lib/scrapers/nriva/core"

	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestBuildSearchBodyGenderOnly(t *testing.T) {
	body := BuildSearchBody(Criteria{Gender: "Female"})
	require.Len(t, body, 1)
	require.Equal(t, "Female", body.Get("gender"))
}

func TestBuildSearchBodyOmitsNilFields(t *testing.T) {
	cases := []Criteria{
		{Gender: "Female"},
		{Gender: "Male", MinAge: intPtr(25)},
		{Gender: "Female", MaxAge: intPtr(31), Citizenship: strPtr("USA")},
		{Gender: "Female", EducationLevel: strPtr("Masters"), MaritalStatus: strPtr("Never Married")},
	}
	for _, c := range cases {
		body := BuildSearchBody(c)
		for key, vals := range body {
			for _, v := range vals {
				require.NotEmpty(t, v, "field %s must never be sent empty", key)
			}
		}
		expected := 1
		if c.MinAge != nil {
			expected++
		}
		if c.MaxAge != nil {
			expected++
		}
		if c.Citizenship != nil {
			expected++
		}
		if c.EducationLevel != nil {
			expected++
		}
		if c.MaritalStatus != nil {
			expected++
		}
		require.Len(t, body, expected)
	}
}

func TestBuildSearchBodyVocabulary(t *testing.T) {
	body := BuildSearchBody(Criteria{
		Gender:      "Female",
		MinAge:      intPtr(25),
		MaxAge:      intPtr(31),
		Citizenship: strPtr("USA"),
	})
	require.Equal(t, "25", body.Get("min_age"))
	require.Equal(t, "31", body.Get("max_age"))
	require.Equal(t, "USA", body.Get("citizenship"))
}

// serves two pages of ten and five rows, with one identifier repeated
// across the page boundary
func newSearchSite(t *testing.T) (*httptest.Server, *int) {
	requests := 0
	mux := http.NewServeMux()
	mux.HandleFunc("POST /eedu-jodu/search-eedujodu-profiles", func(w http.ResponseWriter, r *http.Request) {
		requests++
		r.ParseForm()
		start, _ := strconv.Atoi(r.PostFormValue("start"))
		length, _ := strconv.Atoi(r.PostFormValue("length"))
		require.Equal(t, "Female", r.PostFormValue("gender"))

		var rows []map[string]any
		total := 15
		for i := start; i < start+length && i < total; i++ {
			id := 1000 + i
			if i == 10 {
				// the remote side re-lists the last profile of page one
				id = 1000 + 9
			}
			rows = append(rows, map[string]any{"member_id": fmt.Sprint(id), "name": "someone"})
		}
		w.Header().Set("content-type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"data": rows, "recordsTotal": total})
	})
	return httptest.NewServer(mux), &requests
}

func newTestClient(t *testing.T, baseUrl string) *core.Client {
	client, err := core.NewClient(context.Background(), core.ClientOptions{BaseUrl: baseUrl})
	require.NoError(t, err)
	client.Http.GetClient().Transport = http.DefaultTransport
	return client
}

func TestWalkDeduplicates(t *testing.T) {
	srv, requests := newSearchSite(t)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	sched := fetch.NewScheduler(fetch.SchedulerOptions{Timeout: time.Second * 5})
	walker := NewWalker(client, sched, WalkerOptions{PageLength: 10, MaxPages: 10})

	ids, err := walker.Walk(context.Background(), Criteria{Gender: "Female"})
	require.NoError(t, err)
	require.Len(t, ids, 14)

	seen := map[ProfileId]bool{}
	for _, id := range ids {
		require.False(t, seen[id], "identifier %s yielded twice", id)
		seen[id] = true
	}
	require.Equal(t, 2, *requests, "pages must be fetched strictly once each")
}

func TestWalkStopsAtMaxPages(t *testing.T) {
	mux := http.NewServeMux()
	requests := 0
	mux.HandleFunc("POST /eedu-jodu/search-eedujodu-profiles", func(w http.ResponseWriter, r *http.Request) {
		requests++
		r.ParseForm()
		start, _ := strconv.Atoi(r.PostFormValue("start"))
		length, _ := strconv.Atoi(r.PostFormValue("length"))
		// a broken backend that always returns a full page of fresh ids
		var rows []map[string]any
		for i := start; i < start+length; i++ {
			rows = append(rows, map[string]any{"member_id": fmt.Sprint(i)})
		}
		w.Header().Set("content-type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"data": rows, "recordsTotal": 1 << 30})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	sched := fetch.NewScheduler(fetch.SchedulerOptions{Timeout: time.Second * 5})
	walker := NewWalker(client, sched, WalkerOptions{PageLength: 5, MaxPages: 3})

	ids, err := walker.Walk(context.Background(), Criteria{Gender: "Female"})
	require.NoError(t, err)
	require.Len(t, ids, 15)
	require.Equal(t, 3, requests)
}

func TestWalkRetriesMalformedPage(t *testing.T) {
	mux := http.NewServeMux()
	requests := 0
	mux.HandleFunc("POST /eedu-jodu/search-eedujodu-profiles", func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("content-type", "application/json")
		if requests == 1 {
			fmt.Fprint(w, `{"data": [{"member_`)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data":         []map[string]any{{"member_id": "77"}},
			"recordsTotal": 1,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	sched := fetch.NewScheduler(fetch.SchedulerOptions{Timeout: time.Second * 5, MaxRetries: 2})
	walker := NewWalker(client, sched, WalkerOptions{PageLength: 10})

	ids, err := walker.Walk(context.Background(), Criteria{Gender: "Female"})
	require.NoError(t, err)
	require.Equal(t, []ProfileId{"77"}, ids)
	require.Equal(t, 2, requests)
}

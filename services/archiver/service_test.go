package archiver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"nriva-archiver/lib/fetch"
	"nriva-archiver/lib/scrapers/nriva/core"
	"nriva-archiver/lib/scrapers/nriva/profile"
	"nriva-archiver/lib/scrapers/nriva/search"
	"nriva-archiver/lib/sqliteutil"
	"nriva-archiver/services/archiver/db"

	"github.com/stretchr/testify/require"
)

const (
	testUser     = "user@example.com"
	testPassword = "hunter2"
)

// a full fake of the remote site: captcha login, two-page search with a
// duplicated identifier, per-profile pages and images
func newFullSite(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	token := "site-token"
	sessions := map[string]bool{}

	mux.HandleFunc("GET /login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><head><meta name="csrf-token" content="%s"></head>
<body><form method="post" action="/login"><label>6 + 3 = </label>
<input name="email"><input name="password" type="password"><input name="captcha">
</form></body></html>`, token)
	})
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostFormValue("_token") != token ||
			r.PostFormValue("email") != testUser ||
			r.PostFormValue("password") != testPassword ||
			r.PostFormValue("captcha") != "9" {
			fmt.Fprint(w, `<html><body><form><input name="password" type="password"></form></body></html>`)
			return
		}
		sessions["s1"] = true
		http.SetCookie(w, &http.Cookie{Name: "app_session", Value: "s1", Path: "/"})
		fmt.Fprintf(w, `<html><head><meta name="csrf-token" content="%s"></head><body><a href="/logout">Logout</a></body></html>`, token)
	})

	authed := func(r *http.Request) bool {
		ck, err := r.Cookie("app_session")
		return err == nil && sessions[ck.Value]
	}

	mux.HandleFunc("POST /eedu-jodu/search-eedujodu-profiles", func(w http.ResponseWriter, r *http.Request) {
		require.True(t, authed(r))
		r.ParseForm()
		require.Equal(t, "Female", r.PostFormValue("gender"))
		require.Equal(t, "25", r.PostFormValue("min_age"))
		require.Equal(t, "31", r.PostFormValue("max_age"))
		require.Equal(t, "USA", r.PostFormValue("citizenship"))

		start, _ := strconv.Atoi(r.PostFormValue("start"))
		length, _ := strconv.Atoi(r.PostFormValue("length"))
		var rows []map[string]any
		for i := start; i < start+length && i < 15; i++ {
			id := 5000 + i
			if i == 10 {
				// repeated across the page boundary
				id = 5000 + 9
			}
			rows = append(rows, map[string]any{"member_id": fmt.Sprint(id)})
		}
		w.Header().Set("content-type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"data": rows, "recordsTotal": 15})
	})

	mux.HandleFunc("GET /eedu-jodu/profile/{id}", func(w http.ResponseWriter, r *http.Request) {
		require.True(t, authed(r))
		id := r.PathValue("id")
		fmt.Fprintf(w, `<html><body>
<h4 class="OpenSans-Semibold">Profile %s</h4>
<img class="userprofileimage" src="/storage/photos/%s/main.jpg">
<table>
<tr><td>Profile Id :</td><td>%s</td></tr>
<tr><td>Age</td><td>27</td></tr>
<tr><td>Gender</td><td>Female</td></tr>
<tr><td>Marital Status</td><td>Never Married</td></tr>
<tr><td>Location</td><td>Austin, TX</td></tr>
<tr><td>Email</td><td>someone@example.com</td></tr>
<tr><td>Phone</td><td>555-0100</td></tr>
<tr><td>Education Level</td><td>Masters</td></tr>
<tr><td>Profession</td><td>Engineer</td></tr>
<tr><td>Height</td><td>5ft 4in</td></tr>
<tr><td>Zodiac Sign</td><td>Libra</td></tr>
</table>
<a href="/eedu-jodu/horoscope/%s.pdf">Horoscope</a>
</body></html>`, id, id, id, id)
	})

	mux.HandleFunc("GET /storage/photos/{id}/main.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "image/jpeg")
		w.Write(bytes.Repeat([]byte{0xd8}, 1024))
	})
	mux.HandleFunc("GET /eedu-jodu/horoscope/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/pdf")
		w.Write(append([]byte("%PDF-1.4 "), bytes.Repeat([]byte{0x20}, 512)...))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRunEndToEnd(t *testing.T) {
	srv := newFullSite(t)

	client, err := core.NewClient(context.Background(), core.ClientOptions{
		BaseUrl:  srv.URL,
		Username: testUser,
		Password: testPassword,
	})
	require.NoError(t, err)
	client.Http.GetClient().Transport = http.DefaultTransport

	outDir := t.TempDir()
	database, err := sqliteutil.OpenDB(db.Schema, filepath.Join(outDir, "outcomes.db"))
	require.NoError(t, err)
	defer database.Close()
	store := db.NewStore(database)

	memLog := &fetch.MemoryLog{}
	sched := fetch.NewScheduler(fetch.SchedulerOptions{
		Timeout:    time.Second * 5,
		MaxRetries: 2,
		Recorder:   fetch.MultiRecorder{memLog, DbRecorder{Store: store}},
	})
	walker := search.NewWalker(client, sched, search.WalkerOptions{PageLength: 10, MaxPages: 10})

	archive, err := NewArchive(outDir)
	require.NoError(t, err)
	service := NewService(client, sched, walker, archive)

	minAge, maxAge, citizenship := 25, 31, "USA"
	criteria := search.Criteria{
		Gender:      "Female",
		MinAge:      &minAge,
		MaxAge:      &maxAge,
		Citizenship: &citizenship,
	}

	summary, err := service.Run(context.Background(), criteria)
	require.NoError(t, err)

	require.Equal(t, 14, summary.Discovered)
	require.Equal(t, 14, summary.Succeeded)
	require.Equal(t, 0, summary.Partial)
	require.Equal(t, 0, summary.Failed)
	require.Equal(t, 28, summary.MediaOk)
	require.Equal(t, 0, summary.MediaFail)

	profileEntries := 0
	for _, e := range memLog.Entries() {
		if e.Kind != "profile" {
			continue
		}
		profileEntries++
		require.Equal(t, fetch.ClassSuccess, e.Class)
	}
	require.Equal(t, 14, profileEntries)
	require.Equal(t, 0, memLog.CountByClass(fetch.ClassFatal))

	// archive layout
	rec := readRecord(t, archive, "5009")
	require.Equal(t, "Female", rec.Gender)
	require.NotNil(t, rec.Height)
	require.True(t, rec.HoroscopeAvailable)
	_, err = os.Stat(filepath.Join(archive.ProfileDir("5009"), "images", "image_0.jpg"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(archive.ProfileDir("5009"), "horoscope_5009.pdf"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(archive.ProfileDir("5009"), "profile.html"))
	require.NoError(t, err)

	// persisted outcome log agrees with the in-memory one
	kinds, err := store.SummarizeByKind(context.Background())
	require.NoError(t, err)
	byKind := map[string]db.KindSummary{}
	for _, k := range kinds {
		byKind[k.Kind] = k
	}
	require.Equal(t, 14, byKind["profile"].Success)
	require.Equal(t, 0, byKind["profile"].Fatal)
	require.Equal(t, 14, byKind["image"].Success)
	require.Equal(t, 14, byKind["horoscope"].Success)
	require.Equal(t, 1, byKind["login"].Success)

	require.NoError(t, WriteReport(archive, criteria, summary, memLog.Entries()))
	report, err := os.ReadFile(filepath.Join(archive.DataDir(), "scraping_report.txt"))
	require.NoError(t, err)
	require.Contains(t, string(report), "14 succeeded")
}

func readRecord(t *testing.T, archive Archive, id string) profile.Record {
	contents, err := os.ReadFile(filepath.Join(archive.ProfileDir(id), "profile_data.json"))
	require.NoError(t, err)
	var rec profile.Record
	require.NoError(t, json.Unmarshal(contents, &rec))
	return rec
}

func TestRunContinuesPastFatalProfile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /eedu-jodu/search-eedujodu-profiles", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"member_id": "1"}, {"member_id": "2"}, {"member_id": "3"},
			},
			"recordsTotal": 3,
		})
	})
	mux.HandleFunc("GET /eedu-jodu/profile/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "2" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `<html><body><h4>P</h4>
<table><tr><td>Profile Id :</td><td>%s</td></tr></table>
<img class="userprofileimage" src=""></body></html>`, r.PathValue("id"))
	})
	// the remaining profile url patterns must also miss for id 2
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := core.NewClient(context.Background(), core.ClientOptions{BaseUrl: srv.URL})
	require.NoError(t, err)
	client.Http.GetClient().Transport = http.DefaultTransport

	memLog := &fetch.MemoryLog{}
	sched := fetch.NewScheduler(fetch.SchedulerOptions{Timeout: time.Second * 5, Recorder: memLog})
	walker := search.NewWalker(client, sched, search.WalkerOptions{PageLength: 10})
	archive, err := NewArchive(t.TempDir())
	require.NoError(t, err)

	summary, err := NewService(client, sched, walker, archive).Run(context.Background(), search.Criteria{Gender: "Female"})
	require.NoError(t, err)
	require.Equal(t, 3, summary.Discovered)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 2, summary.Succeeded+summary.Partial)
	require.Equal(t, 1, memLog.CountByClass(fetch.ClassFatal))
}

func TestRunAbortsWhenSessionLostMidBatch(t *testing.T) {
	mux := http.NewServeMux()
	token := "mid-token"
	revoked := false
	loginPosts := 0
	profileHits := 0

	mux.HandleFunc("GET /login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><head><meta name="csrf-token" content="%s"></head>
<body><form method="post" action="/login"><label>6 + 3 = </label>
<input name="email"><input name="password" type="password"><input name="captcha">
</form></body></html>`, token)
	})
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		loginPosts++
		if revoked {
			fmt.Fprint(w, `<html><body><form method="post" action="/login"><input name="password" type="password"></form></body></html>`)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "app_session", Value: "s1", Path: "/"})
		fmt.Fprint(w, `<html><body><a href="/logout">Logout</a></body></html>`)
	})
	mux.HandleFunc("POST /eedu-jodu/search-eedujodu-profiles", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"member_id": "1"}, {"member_id": "2"}, {"member_id": "3"},
			},
			"recordsTotal": 3,
		})
		// the account is revoked right after the search
		revoked = true
	})
	mux.HandleFunc("GET /eedu-jodu/profile/{id}", func(w http.ResponseWriter, r *http.Request) {
		profileHits++
		fmt.Fprint(w, `<html><body><form method="post" action="/login"><input name="password" type="password"></form></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := core.NewClient(context.Background(), core.ClientOptions{
		BaseUrl:  srv.URL,
		Username: testUser,
		Password: testPassword,
	})
	require.NoError(t, err)
	client.Http.GetClient().Transport = http.DefaultTransport

	memLog := &fetch.MemoryLog{}
	sched := fetch.NewScheduler(fetch.SchedulerOptions{
		Timeout:    time.Second * 5,
		MaxRetries: 3,
		Recorder:   memLog,
	})
	walker := search.NewWalker(client, sched, search.WalkerOptions{PageLength: 10})
	archive, err := NewArchive(t.TempDir())
	require.NoError(t, err)

	summary, err := NewService(client, sched, walker, archive).Run(context.Background(), search.Criteria{Gender: "Female"})
	require.Error(t, err)
	require.ErrorIs(t, err, core.ErrBadCredentials)
	require.Equal(t, 3, summary.Discovered)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 0, summary.Succeeded+summary.Partial)

	// one successful login plus one refused re-login; the dead session
	// must not trigger a re-login per url pattern or per retry
	require.Equal(t, 2, loginPosts)
	require.Equal(t, 1, profileHits)
	require.Equal(t, 1, memLog.CountByClass(fetch.ClassFatal))
}

func TestRenameProfileDirs(t *testing.T) {
	archive, err := NewArchive(t.TempDir())
	require.NoError(t, err)

	// a directory keyed by member id whose record carries the real id
	rec := profile.Record{Id: "temp-77", Name: "Someone"}
	require.NoError(t, archive.WriteRecord(rec))
	rec.Id = "9999"
	contents, err := json.Marshal(rec)
	require.NoError(t, err)
	rewrite := filepath.Join(archive.ProfileDir("temp-77"), "profile_data.json")
	require.NoError(t, os.WriteFile(rewrite, contents, 0o644))

	renamed, skipped, err := archive.RenameProfileDirs()
	require.NoError(t, err)
	require.Equal(t, 1, renamed)
	require.Empty(t, skipped)
	_, err = os.Stat(filepath.Join(archive.ProfileDir("9999"), "profile_data.json"))
	require.NoError(t, err)
}

package subsonic

import (
	"context"
	"crypto/md5" //nolint:gosec // verifying protocol token
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "admin", "sesame", ""), srv
}

func TestAuthParams(t *testing.T) {
	var seen map[string]string
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		seen = map[string]string{
			"u": q.Get("u"), "t": q.Get("t"), "s": q.Get("s"),
			"v": q.Get("v"), "c": q.Get("c"), "f": q.Get("f"),
		}
		w.Write([]byte(`{"subsonic-response":{"status":"ok"}}`))
	})

	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if seen["u"] != "admin" || seen["v"] != "1.16.1" || seen["c"] != "airwave" || seen["f"] != "json" {
		t.Errorf("unexpected auth params: %v", seen)
	}
	sum := md5.Sum([]byte("sesame" + seen["s"])) //nolint:gosec // protocol check
	if seen["t"] != hex.EncodeToString(sum[:]) {
		t.Error("token is not md5(password+salt)")
	}
}

func TestPingServerError(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"subsonic-response":{"status":"failed","error":{"code":40,"message":"Wrong username or password"}}}`))
	})
	err := c.Ping(context.Background())
	if err == nil {
		t.Fatal("expected auth failure")
	}
}

func TestListArtistsFlattensIndexes(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/getArtists.view" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"subsonic-response":{"status":"ok","artists":{"index":[
			{"name":"B","artist":[{"id":"ar-1","name":"Black Sabbath","albumCount":19}]},
			{"name":"P","artist":[{"id":"ar-2","name":"Pink Floyd","albumCount":15},
				{"id":"ar-3","name":"Porcupine Tree","albumCount":10}]}]}}}`))
	})

	artists, err := c.ListArtists(context.Background())
	if err != nil {
		t.Fatalf("list artists: %v", err)
	}
	if len(artists) != 3 {
		t.Fatalf("expected 3 artists, got %d", len(artists))
	}
	if artists[1].Name != "Pink Floyd" || artists[1].ID != "ar-2" {
		t.Errorf("unexpected artist %+v", artists[1])
	}
}

func TestListAlbumsAndTracks(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/getArtist.view":
			w.Write([]byte(`{"subsonic-response":{"status":"ok","artist":{"id":"ar-2","name":"Pink Floyd",
				"album":[{"id":"al-1","artistId":"ar-2","artist":"Pink Floyd","name":"Animals","year":1977,"songCount":5}]}}}`))
		case "/rest/getAlbum.view":
			w.Write([]byte(`{"subsonic-response":{"status":"ok","album":{"id":"al-1","name":"Animals",
				"song":[{"id":"tr-1","albumId":"al-1","title":"Dogs","artist":"Pink Floyd","album":"Animals","duration":1024,"path":"pf/animals/02.flac"}]}}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	albums, err := c.ListAlbums(context.Background(), "ar-2")
	if err != nil {
		t.Fatalf("list albums: %v", err)
	}
	if len(albums) != 1 || albums[0].Name != "Animals" || albums[0].Year != 1977 {
		t.Fatalf("unexpected albums %+v", albums)
	}

	tracks, err := c.ListTracks(context.Background(), "al-1")
	if err != nil {
		t.Fatalf("list tracks: %v", err)
	}
	if len(tracks) != 1 || tracks[0].Title != "Dogs" || tracks[0].Duration != 1024 {
		t.Fatalf("unexpected tracks %+v", tracks)
	}
}

func TestApplyRating(t *testing.T) {
	var gotID, gotRating string
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/setRating.view" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotID = r.URL.Query().Get("id")
		gotRating = r.URL.Query().Get("rating")
		w.Write([]byte(`{"subsonic-response":{"status":"ok"}}`))
	})

	if err := c.ApplyRating(context.Background(), "tr-9", 5); err != nil {
		t.Fatalf("apply rating: %v", err)
	}
	if gotID != "tr-9" || gotRating != "5" {
		t.Errorf("expected tr-9/5, got %s/%s", gotID, gotRating)
	}

	if err := c.ApplyRating(context.Background(), "tr-9", 6); err == nil {
		t.Error("expected out-of-range rating to be rejected")
	}
}

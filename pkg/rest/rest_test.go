package rest

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

	"github.com/meszmate/qbsdk/pkg/config"
	"github.com/meszmate/qbsdk/pkg/qberror"
)

func newProxy(opts ...Option) *Proxy {
	return New(config.DefaultConfig(), opts...)
}

func TestEncodeForm(t *testing.T) {
	got := EncodeForm(map[string]any{
		"b": 2,
		"a": map[string]any{"y": "2", "x": "1"},
		"c": []any{"z", "w"},
		"d": "hello world",
	})
	want := "a[x]=1&a[y]=2&b=2&c[]=w&c[]=z&d=hello+world"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestGetSendsQueryAndToken(t *testing.T) {
	var gotQuery, gotToken, gotSDK, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotQuery = r.URL.RawQuery
		gotToken = r.Header.Get("QB-Token")
		gotSDK = r.Header.Get("QB-SDK")
		w.Write([]byte(`{"items":[]}`))
	}))
	defer srv.Close()

	p := newProxy()
	p.SetSession(&Session{Token: "tok"})

	resp, err := p.Do(context.Background(), Params{
		URL:  srv.URL + "/data/cars.json",
		Data: map[string]any{"sort_asc": "created_at", "limit": 10},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotMethod != http.MethodGet {
		t.Fatalf("expected GET, got %s", gotMethod)
	}
	if gotQuery != "limit=10&sort_asc=created_at" {
		t.Fatalf("expected sorted query, got %q", gotQuery)
	}
	if gotToken != "tok" {
		t.Fatalf("expected token header, got %q", gotToken)
	}
	if gotSDK != "Go "+config.Version+" - Server" {
		t.Fatalf("unexpected sdk header %q", gotSDK)
	}

	var out struct {
		Items []any `json:"items"`
	}
	if err := resp.Decode(&out); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out.Items == nil {
		t.Fatalf("expected items to decode")
	}
}

func TestPostFormBody(t *testing.T) {
	var body, ct string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		ct = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"_id":"1"}`))
	}))
	defer srv.Close()

	_, err := newProxy().Do(context.Background(), Params{
		Method: "post",
		URL:    srv.URL,
		Data:   map[string]any{"make": "BMW", "value": 100},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body != "make=BMW&value=100" {
		t.Fatalf("unexpected body %q", body)
	}
	if ct != FormContentType {
		t.Fatalf("expected form content type, got %q", ct)
	}
}

func TestNoTokenForStorageTarget(t *testing.T) {
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("QB-Token")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	p := newProxy()
	p.SetSession(&Session{Token: "tok"})
	if _, err := p.Do(context.Background(), Params{URL: srv.URL + "/s3.amazonaws.com/bucket"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotToken != "" {
		t.Fatalf("expected no token for storage target, got %q", gotToken)
	}
}

func TestJSONBody(t *testing.T) {
	var got map[string]any
	var ct string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ct = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := newProxy().Do(context.Background(), Params{
		Method: http.MethodPut,
		URL:    srv.URL,
		Data:   map[string]any{"model": "M3"},
		JSON:   true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ct != JSONContentType {
		t.Fatalf("expected json content type, got %q", ct)
	}
	if got["model"] != "M3" {
		t.Fatalf("expected model M3, got %v", got["model"])
	}
}

func TestMultipartWithFile(t *testing.T) {
	var field, fileName, fileBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		field = r.FormValue("field_name")
		f, hdr, err := r.FormFile("file")
		if err == nil {
			fileName = hdr.Filename
			b, _ := io.ReadAll(f)
			fileBody = string(b)
			f.Close()
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	p := newProxy()
	p.SetSession(&Session{Token: "tok"})
	_, err := p.Do(context.Background(), Params{
		Method:    http.MethodPost,
		URL:       srv.URL,
		Data:      map[string]any{"field_name": "photo"},
		Multipart: true,
		File:      &File{Name: "car.png", Data: strings.NewReader("png")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if field != "photo" || fileName != "car.png" || fileBody != "png" {
		t.Fatalf("unexpected multipart parts %q %q %q", field, fileName, fileBody)
	}
}

func TestErrorNormalization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Status", "422 Unprocessable Entity")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"errors":{"base":["bad"]}}`))
	}))
	defer srv.Close()

	_, err := newProxy().Do(context.Background(), Params{URL: srv.URL})
	var qerr *qberror.Error
	if !errors.As(err, &qerr) {
		t.Fatalf("expected *qberror.Error, got %T", err)
	}
	if qerr.Code != 422 || qerr.Status != "422 Unprocessable Entity" {
		t.Fatalf("unexpected error %+v", qerr)
	}
	detail, ok := qerr.Detail.(map[string]any)
	if !ok || detail["base"] == nil {
		t.Fatalf("expected errors member as detail, got %v", qerr.Detail)
	}
}

func TestTextErrorKeepsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("not here"))
	}))
	defer srv.Close()

	_, err := newProxy().Do(context.Background(), Params{URL: srv.URL, DataType: "text"})
	var qerr *qberror.Error
	if !errors.As(err, &qerr) {
		t.Fatalf("expected *qberror.Error, got %T", err)
	}
	if qerr.Status != "error" || qerr.Message != "not here" {
		t.Fatalf("unexpected error %+v", qerr)
	}
}

// expiringServer rejects every token except "fresh"
func expiringServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var mu sync.Mutex
	tokens := &[]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		*tokens = append(*tokens, r.Header.Get("QB-Token"))
		mu.Unlock()
		if r.Header.Get("QB-Token") != "fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"errors":["Unauthorized"]}`))
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	return srv, tokens
}

func TestExpiredSessionRetriesWithNewToken(t *testing.T) {
	srv, tokens := expiringServer(t)
	defer srv.Close()

	calls := 0
	p := newProxy(WithSessionExpired(func(ctx context.Context, err error, retry RetryFunc) (*Response, error) {
		calls++
		return retry(ctx, &Session{Token: "fresh"})
	}))
	p.SetSession(&Session{Token: "stale"})

	resp, err := p.Do(context.Background(), Params{URL: srv.URL + "/data/cars.json"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected policy once, got %d", calls)
	}
	if len(*tokens) != 2 || (*tokens)[1] != "fresh" {
		t.Fatalf("expected retry with fresh token, got %v", *tokens)
	}
	if p.Session().Token != "fresh" {
		t.Fatalf("expected session to be replaced")
	}
	if !strings.Contains(string(resp.Body), "ok") {
		t.Fatalf("unexpected body %s", resp.Body)
	}
}

func TestRetryResendsFileContent(t *testing.T) {
	var mu sync.Mutex
	var sizes []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		size := -1
		if f, _, err := r.FormFile("file"); err == nil {
			b, _ := io.ReadAll(f)
			size = len(b)
			f.Close()
		}
		mu.Lock()
		sizes = append(sizes, size)
		mu.Unlock()

		if r.Header.Get("QB-Token") != "fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"errors":["Unauthorized"]}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	p := newProxy(WithSessionExpired(func(ctx context.Context, err error, retry RetryFunc) (*Response, error) {
		return retry(ctx, &Session{Token: "fresh"})
	}))
	p.SetSession(&Session{Token: "stale"})

	file := &File{Name: "car.png", Data: strings.NewReader("hello world")}
	_, err := p.Do(context.Background(), Params{
		Method:    http.MethodPost,
		URL:       srv.URL + "/data/cars/1/file.json",
		Data:      map[string]any{"field_name": "photo"},
		Multipart: true,
		File:      file,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sizes) != 2 || sizes[0] != 11 || sizes[1] != 11 {
		t.Fatalf("expected the full file on both attempts, got %v", sizes)
	}
}

func TestRetryResendsFormBody(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if r.Header.Get("QB-Token") != "fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	p := newProxy(WithSessionExpired(func(ctx context.Context, err error, retry RetryFunc) (*Response, error) {
		return retry(ctx, &Session{Token: "fresh"})
	}))
	p.SetSession(&Session{Token: "stale"})

	_, err := p.Do(context.Background(), Params{
		Method: http.MethodPost,
		URL:    srv.URL + "/data/cars.json",
		Data:   map[string]any{"name": "bmw"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bodies) != 2 || bodies[0] != "name=bmw" || bodies[1] != "name=bmw" {
		t.Fatalf("expected the same body on both attempts, got %q", bodies)
	}
}

func TestRetryFailureDoesNotReenterPolicy(t *testing.T) {
	srv, tokens := expiringServer(t)
	defer srv.Close()

	calls := 0
	p := newProxy(WithSessionExpired(func(ctx context.Context, err error, retry RetryFunc) (*Response, error) {
		calls++
		return retry(ctx, &Session{Token: "also-stale"})
	}))
	p.SetSession(&Session{Token: "stale"})

	_, err := p.Do(context.Background(), Params{URL: srv.URL + "/data/cars.json"})
	if !qberror.IsSessionExpired(err) {
		t.Fatalf("expected expired session error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected policy once, got %d", calls)
	}
	if len(*tokens) != 2 {
		t.Fatalf("expected two requests, got %d", len(*tokens))
	}
}

func TestRetryWithoutSessionKeepsError(t *testing.T) {
	srv, tokens := expiringServer(t)
	defer srv.Close()

	p := newProxy(WithSessionExpired(func(ctx context.Context, err error, retry RetryFunc) (*Response, error) {
		return retry(ctx, nil)
	}))
	_, err := p.Do(context.Background(), Params{URL: srv.URL})
	if !qberror.IsSessionExpired(err) {
		t.Fatalf("expected expired session error, got %v", err)
	}
	if len(*tokens) != 1 {
		t.Fatalf("expected no retry request, got %d", len(*tokens))
	}
}

func TestSessionURLExemptFromPolicy(t *testing.T) {
	srv, _ := expiringServer(t)
	defer srv.Close()

	calls := 0
	p := newProxy(WithSessionExpired(func(ctx context.Context, err error, retry RetryFunc) (*Response, error) {
		calls++
		return nil, err
	}))
	_, err := p.Do(context.Background(), Params{Method: http.MethodPost, URL: srv.URL + "/session.json"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 0 {
		t.Fatalf("expected policy to be skipped, got %d calls", calls)
	}
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newProxy().Do(context.Background(), Params{URL: url})
	var qerr *qberror.Error
	if !errors.As(err, &qerr) {
		t.Fatalf("expected *qberror.Error, got %T", err)
	}
	if qerr.Code != 0 || qerr.Status != "error" {
		t.Fatalf("unexpected error %+v", qerr)
	}
}

func TestAjaxCallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	done := make(chan int, 1)
	newProxy().Ajax(context.Background(), Params{URL: srv.URL}, func(resp *Response, err error) {
		if err != nil {
			done <- -1
			return
		}
		done <- resp.StatusCode
	})

	select {
	case code := <-done:
		if code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for callback")
	}
}

package data

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/meszmate/qbsdk/pkg/config"
	"github.com/meszmate/qbsdk/pkg/rest"
)

type recorded struct {
	method string
	path   string
	query  string
	body   string
}

func newService(t *testing.T, reply string) (*Service, *[]recorded) {
	t.Helper()
	reqs := &[]recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery}
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			r.ParseMultipartForm(1 << 20)
			rec.body = r.FormValue("field_name")
			if f, hdr, err := r.FormFile("file"); err == nil {
				b, _ := io.ReadAll(f)
				rec.body += ":" + hdr.Filename + ":" + string(b)
				f.Close()
			}
		} else {
			b, _ := io.ReadAll(r.Body)
			rec.body = string(b)
		}
		*reqs = append(*reqs, rec)
		w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig()
	cfg.Endpoints.API = srv.URL
	proxy := rest.New(cfg)
	proxy.SetSession(&rest.Session{Token: "tok"})
	return New(proxy), reqs
}

func TestCreate(t *testing.T) {
	s, reqs := newService(t, `{"_id":"abc","make":"BMW","value":100}`)
	obj, err := s.Create(context.Background(), "cars", map[string]any{"make": "BMW", "value": 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj.ID() != "abc" || obj["make"] != "BMW" {
		t.Fatalf("unexpected object %v", obj)
	}
	got := (*reqs)[0]
	if got.method != http.MethodPost || got.path != "/data/cars.json" || got.body != "make=BMW&value=100" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestListWithFilter(t *testing.T) {
	s, reqs := newService(t, `{"class_name":"cars","limit":100,"items":[{"_id":"1","value":120}]}`)
	res, err := s.List(context.Background(), "cars", map[string]any{"value": map[string]any{"gt": 50}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Items) != 1 || res.Items[0].ID() != "1" {
		t.Fatalf("unexpected items %v", res.Items)
	}
	if q := (*reqs)[0].query; q != "value%5Bgt%5D=50" && q != "value[gt]=50" {
		t.Fatalf("unexpected query %q", q)
	}
}

func TestListEmpty(t *testing.T) {
	s, _ := newService(t, `{"class_name":"cars"}`)
	res, err := s.List(context.Background(), "cars", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Items == nil || len(res.Items) != 0 {
		t.Fatalf("expected empty items, got %v", res.Items)
	}
}

func TestUpdate(t *testing.T) {
	s, reqs := newService(t, `{"_id":"abc","model":"M3"}`)
	obj, err := s.Update(context.Background(), "cars", Object{"_id": "abc", "model": "M3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj["model"] != "M3" {
		t.Fatalf("unexpected object %v", obj)
	}
	got := (*reqs)[0]
	if got.method != http.MethodPut || got.path != "/data/cars/abc.json" || got.body != "model=M3" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestUpdateRequiresID(t *testing.T) {
	s, reqs := newService(t, `{}`)
	if _, err := s.Update(context.Background(), "cars", Object{"model": "M3"}); !errors.Is(err, ErrMissingID) {
		t.Fatalf("expected ErrMissingID, got %v", err)
	}
	if len(*reqs) != 0 {
		t.Fatalf("expected no request")
	}
}

func TestDelete(t *testing.T) {
	s, reqs := newService(t, ``)
	if err := s.Delete(context.Background(), "cars", "abc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := (*reqs)[0]
	if got.method != http.MethodDelete || got.path != "/data/cars/abc.json" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestUploadFile(t *testing.T) {
	s, reqs := newService(t, `{"file_id":"f1"}`)
	out, err := s.UploadFile(context.Background(), "cars", "abc", FileUpload{
		Field: "photo",
		Name:  "car.png",
		Data:  strings.NewReader("png"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["file_id"] != "f1" {
		t.Fatalf("unexpected result %v", out)
	}
	got := (*reqs)[0]
	if got.path != "/data/cars/abc/file.json" || got.body != "photo:car.png:png" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestDeleteFile(t *testing.T) {
	s, reqs := newService(t, ``)
	if err := s.DeleteFile(context.Background(), "cars", "abc", "photo"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := (*reqs)[0]
	if got.method != http.MethodDelete || got.path != "/data/cars/abc/file.json" || got.body != "field_name=photo" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestFileURL(t *testing.T) {
	s, _ := newService(t, ``)
	u := s.FileURL("cars", "abc", "photo")
	if !strings.HasSuffix(u, "/data/cars/abc/file.json?field_name=photo&token=tok") {
		t.Fatalf("unexpected url %s", u)
	}
}

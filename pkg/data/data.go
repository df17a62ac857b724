// Package data manages custom objects and their file fields.
package data

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/meszmate/qbsdk/pkg/config"
	"github.com/meszmate/qbsdk/pkg/rest"
)

// ErrMissingID is returned for object operations without an object id
var ErrMissingID = errors.New("data: object id is required")

// Object is a custom object. "_id" holds its id.
type Object map[string]any

// ID returns the object id
func (o Object) ID() string {
	id, _ := o["_id"].(string)
	return id
}

// ListResult is one page of a class
type ListResult struct {
	ClassName string   `json:"class_name"`
	Skip      int      `json:"skip"`
	Limit     int      `json:"limit"`
	Items     []Object `json:"items"`
}

// Service is the custom object API
type Service struct {
	proxy *rest.Proxy
	cfg   *config.Config
}

// New creates a service on top of a proxy
func New(proxy *rest.Proxy) *Service {
	return &Service{proxy: proxy, cfg: proxy.Config()}
}

func (s *Service) url(parts ...string) string {
	path := s.cfg.URLs.Data
	for _, p := range parts {
		path += "/" + url.PathEscape(p)
	}
	return s.cfg.APIURL(path)
}

// Create stores a new object of a class
func (s *Service) Create(ctx context.Context, class string, fields map[string]any) (Object, error) {
	resp, err := s.proxy.Do(ctx, rest.Params{
		Method: http.MethodPost,
		URL:    s.url(class),
		Data:   fields,
	})
	if err != nil {
		return nil, err
	}
	var obj Object
	if err := resp.Decode(&obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// List returns objects of a class. filters use the backend operators, e.g.
// {"value": {"gt": 50}, "limit": 10}.
func (s *Service) List(ctx context.Context, class string, filters map[string]any) (*ListResult, error) {
	resp, err := s.proxy.Do(ctx, rest.Params{
		URL:  s.url(class),
		Data: filters,
	})
	if err != nil {
		return nil, err
	}
	out := &ListResult{}
	if err := resp.Decode(out); err != nil {
		return nil, err
	}
	if out.Items == nil {
		out.Items = []Object{}
	}
	return out, nil
}

// Update changes the fields of the object identified by obj["_id"]
func (s *Service) Update(ctx context.Context, class string, obj Object) (Object, error) {
	id := obj.ID()
	if id == "" {
		return nil, ErrMissingID
	}
	fields := make(map[string]any, len(obj))
	for k, v := range obj {
		if k == "_id" {
			continue
		}
		fields[k] = v
	}

	resp, err := s.proxy.Do(ctx, rest.Params{
		Method: http.MethodPut,
		URL:    s.url(class, id),
		Data:   fields,
	})
	if err != nil {
		return nil, err
	}
	var updated Object
	if err := resp.Decode(&updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes an object
func (s *Service) Delete(ctx context.Context, class, id string) error {
	if id == "" {
		return ErrMissingID
	}
	_, err := s.proxy.Do(ctx, rest.Params{
		Method:   http.MethodDelete,
		URL:      s.url(class, id),
		DataType: "text",
	})
	return err
}

// FileUpload names the file field and its content
type FileUpload struct {
	Field       string
	Name        string
	ContentType string
	Data        io.Reader
}

// UploadFile stores a file in a file field of an object
func (s *Service) UploadFile(ctx context.Context, class, id string, f FileUpload) (map[string]any, error) {
	if id == "" {
		return nil, ErrMissingID
	}
	if f.Field == "" {
		return nil, fmt.Errorf("data: file field name is required")
	}
	resp, err := s.proxy.Do(ctx, rest.Params{
		Method:    http.MethodPost,
		URL:       s.url(class, id, "file"),
		Data:      map[string]any{"field_name": f.Field},
		Multipart: true,
		File: &rest.File{
			Name:        f.Name,
			ContentType: f.ContentType,
			Data:        f.Data,
		},
	})
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteFile clears a file field
func (s *Service) DeleteFile(ctx context.Context, class, id, field string) error {
	if id == "" {
		return ErrMissingID
	}
	_, err := s.proxy.Do(ctx, rest.Params{
		Method:   http.MethodDelete,
		URL:      s.url(class, id, "file"),
		Data:     map[string]any{"field_name": field},
		DataType: "text",
	})
	return err
}

// FileURL returns a download URL for a file field, authorized with the
// current session token
func (s *Service) FileURL(class, id, field string) string {
	q := url.Values{}
	q.Set("field_name", field)
	if sess := s.proxy.Session(); sess != nil && sess.Token != "" {
		q.Set("token", sess.Token)
	}
	return s.url(class, id, "file") + "?" + q.Encode()
}

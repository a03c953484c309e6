package connector

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestNewServiceNow(t *testing.T) {
	tests := []struct {
		name         string
		opts         Options
		wantTableUrl string
		wantErr      bool
	}{
		{
			name: "trailing slash",
			opts: Options{
				Url:             "https://dev1234.service-now.com/",
				ServiceNowTable: "change_request",
			},
			wantTableUrl: "https://dev1234.service-now.com/api/now/table/change_request",
		},
		{
			name: "no trailing slash",
			opts: Options{
				Url:             "https://dev1234.service-now.com",
				ServiceNowTable: "incident",
			},
			wantTableUrl: "https://dev1234.service-now.com/api/now/table/incident",
		},
		{
			name: "empty url",
			opts: Options{
				ServiceNowTable: "change_request",
			},
			wantErr: true,
		},
		{
			name: "empty table",
			opts: Options{
				Url: "https://dev1234.service-now.com",
			},
			wantErr: true,
		},
		{
			name: "unsupported scheme",
			opts: Options{
				Url:             "ftp://dev1234.service-now.com",
				ServiceNowTable: "change_request",
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewServiceNow(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewServiceNow() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got.TableUrl() != tt.wantTableUrl {
				t.Errorf("TableUrl() = %v, want %v", got.TableUrl(), tt.wantTableUrl)
			}
		})
	}
}

func Test_processResponse(t *testing.T) {
	type args struct {
		statusCode int
		body       string
	}
	tests := []struct {
		name    string
		args    args
		want    any
		wantErr bool
	}{
		{
			name: "single record",
			args: args{
				statusCode: 200,
				body:       `{"result":[{"number":"CHG0000001","active":"true"}]}`,
			},
			want: []any{map[string]any{"number": "CHG0000001", "active": "true"}},
		},
		{
			name: "created record",
			args: args{
				statusCode: 201,
				body:       `{"result":{"sys_id":"abc"}}`,
			},
			want: map[string]any{"sys_id": "abc"},
		},
		{
			name: "hibernating",
			args: args{
				statusCode: 200,
				body:       `<html><head><title>Instance Hibernating page</title></head></html>`,
			},
			want: HibernatingMessage,
		},
		{
			name: "hibernating page text without html",
			args: args{
				statusCode: 200,
				body:       `Instance Hibernating page`,
			},
			wantErr: true,
		},
		{
			name: "unauthorized",
			args: args{
				statusCode: 401,
				body:       `{"error":{"message":"User Not Authenticated"}}`,
			},
			wantErr: true,
		},
		{
			name: "missing result",
			args: args{
				statusCode: 200,
				body:       `{}`,
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := processResponse(tt.args.statusCode, []byte(tt.args.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("processResponse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("processResponse() got = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestServiceNow_Get(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/api/now/table/change_request" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("sysparm_limit") != "1" {
			t.Errorf("expected sysparm_limit=1, got %q", r.URL.RawQuery)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"result":[{"number":"CHG0000001"}]}`))
	}))
	defer server.Close()

	sn, err := NewServiceNow(Options{
		Url:             server.URL,
		Username:        "admin",
		Password:        "secret",
		ServiceNowTable: "change_request",
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := sn.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	want := []any{map[string]any{"number": "CHG0000001"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Get() got = %v, want %v", got, want)
	}
}

func TestServiceNow_Post(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "{}" {
			t.Errorf("unexpected body %q", body)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":{"sys_id":"abc"}}`))
	}))
	defer server.Close()

	sn, err := NewServiceNow(Options{
		Url:             server.URL,
		Username:        "admin",
		Password:        "secret",
		ServiceNowTable: "change_request",
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := sn.Post(context.Background())
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}

	want := map[string]any{"sys_id": "abc"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Post() got = %v, want %v", got, want)
	}
}

func TestServiceNow_Get_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	sn, err := NewServiceNow(Options{Url: server.URL, ServiceNowTable: "change_request"})
	if err != nil {
		t.Fatal(err)
	}

	_, err = sn.Get(context.Background())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want %d", statusErr.StatusCode, http.StatusServiceUnavailable)
	}
}

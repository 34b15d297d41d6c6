//nolint:testpackage // exercising the orchestrator requires same package access
package preserve

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/linkhaven/preserver/internal/domain"
	"github.com/linkhaven/preserver/internal/logger"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name        string
		contentType string
		wantKind    domain.LinkKind
		wantExt     domain.ImageExtension
	}{
		{"html page", "text/html; charset=utf-8", domain.KindPage, domain.ExtensionPNG},
		{"pdf", "application/pdf", domain.KindPDF, domain.ExtensionPNG},
		{"png image", "image/png", domain.KindImage, domain.ExtensionPNG},
		{"jpeg image", "image/jpeg", domain.KindImage, domain.ExtensionJPEG},
		{"other image", "image/webp", domain.KindImage, domain.ExtensionPNG},
		{"no content type", "", domain.KindPage, domain.ExtensionPNG},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodHead {
					t.Errorf("probe method = %s, want HEAD", r.Method)
				}
				if tc.contentType != "" {
					w.Header().Set("Content-Type", tc.contentType)
				}
			}))
			defer srv.Close()

			store := &mockStore{}
			classifier := NewClassifier(store, logger.NewNop())
			link := &domain.Link{ID: 42, URL: srv.URL}

			cls, err := classifier.Classify(context.Background(), link)
			if err != nil {
				t.Fatalf("Classify() error = %v", err)
			}

			if cls.Kind != tc.wantKind {
				t.Errorf("kind = %s, want %s", cls.Kind, tc.wantKind)
			}
			if cls.Extension != tc.wantExt {
				t.Errorf("extension = %s, want %s", cls.Extension, tc.wantExt)
			}
			if link.Kind != tc.wantKind {
				t.Errorf("link.Kind = %s, want %s", link.Kind, tc.wantKind)
			}
			if len(store.kinds) != 1 || store.kinds[0] != tc.wantKind {
				t.Errorf("persisted kinds = %v, want [%s]", store.kinds, tc.wantKind)
			}
		})
	}
}

func TestClassify_ProbeFailureDegradesToPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // unreachable

	store := &mockStore{}
	classifier := NewClassifier(store, logger.NewNop())
	link := &domain.Link{ID: 42, URL: srv.URL}

	cls, err := classifier.Classify(context.Background(), link)
	if err != nil {
		t.Fatalf("probe failure must not abort the pipeline, got %v", err)
	}
	if cls.Kind != domain.KindPage {
		t.Errorf("kind = %s, want page", cls.Kind)
	}
	if len(store.kinds) != 1 {
		t.Error("degraded classification is still persisted")
	}
}

func TestClassify_MissingURL(t *testing.T) {
	store := &mockStore{}
	classifier := NewClassifier(store, logger.NewNop())

	cls, err := classifier.Classify(context.Background(), &domain.Link{ID: 42})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if cls.Kind != domain.KindPage || cls.Extension != domain.ExtensionPNG {
		t.Errorf("classification = %+v, want page/png", cls)
	}
	if len(store.kinds) != 0 {
		t.Error("no store write expected without a URL")
	}
}

package testutil

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/AltTutor/internal/models"
	"github.com/BTreeMap/AltTutor/internal/store"
)

func TestSampleCatalog(t *testing.T) {
	c := SampleCatalog()
	if c.Len() != 2 {
		t.Fatalf("expected 2 modules, got %d", c.Len())
	}
	l, err := c.Lesson("basics", "what-is")
	if err != nil {
		t.Fatalf("lesson lookup failed: %v", err)
	}
	if len(l.Questions) != 1 || l.Questions[0].CorrectText() != "3.9-5.5 mmol/L" {
		t.Errorf("unexpected questions: %+v", l.Questions)
	}
}

func TestSeedLearner(t *testing.T) {
	st := store.NewInMemoryStore()
	SeedLearner(t, st, models.UserProfile{
		UserID: "u1", Name: "Anna", DiabetesType: models.DiabetesType1, KnowledgeLevel: 3, Points: 15,
	}, models.LessonProgress{ModuleID: "basics", LessonID: "what-is"})

	p, err := st.GetProfile(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if p.Points != 15 {
		t.Errorf("expected 15 points, got %d", p.Points)
	}
	done, err := st.ListCompletedLessons(context.Background(), "u1")
	if err != nil || len(done) != 1 {
		t.Errorf("expected one completed lesson, got %v (err %v)", done, err)
	}
}

func TestAssertHTTPStatus(t *testing.T) {
	tests := []struct {
		name       string
		expected   int
		actual     int
		shouldFail bool
	}{
		{name: "matching status codes", expected: 200, actual: 200},
		{name: "different status codes", expected: 200, actual: 404, shouldFail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockT := &mockTestingT{}
			AssertHTTPStatus(mockT, tt.expected, tt.actual, "test context")
			if mockT.failed != tt.shouldFail {
				t.Errorf("expected failed=%v, got %v", tt.shouldFail, mockT.failed)
			}
		})
	}
}

func TestAssertJSONResponse(t *testing.T) {
	tests := []struct {
		name           string
		jsonBody       string
		expectedStatus string
		shouldFail     bool
	}{
		{name: "valid JSON with matching status", jsonBody: `{"status":"ok","result":"test"}`, expectedStatus: "ok"},
		{name: "valid JSON with different status", jsonBody: `{"status":"error"}`, expectedStatus: "ok", shouldFail: true},
		{name: "invalid JSON", jsonBody: `{"status":}`, expectedStatus: "ok", shouldFail: true},
		{name: "missing status field", jsonBody: `{"result":"test"}`, expectedStatus: "ok", shouldFail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockT := &mockTestingT{}
			rr := httptest.NewRecorder()
			rr.Body.WriteString(tt.jsonBody)

			response := AssertJSONResponse(mockT, rr, tt.expectedStatus)

			if mockT.failed != tt.shouldFail {
				t.Errorf("expected failed=%v, got %v (%s)", tt.shouldFail, mockT.failed, mockT.errorMsg)
			}
			if !tt.shouldFail && response == nil {
				t.Error("Expected response map to be returned")
			}
		})
	}
}

func TestCreateHTTPRequest(t *testing.T) {
	req := CreateHTTPRequest(t, "POST", "/users/u1/points/reset", map[string]string{"reason": "test"})
	if req.Method != "POST" || req.URL.Path != "/users/u1/points/reset" {
		t.Errorf("unexpected request %s %s", req.Method, req.URL.Path)
	}
	if req.Header.Get("Content-Type") != "application/json" {
		t.Error("expected JSON content type")
	}

	req = CreateHTTPRequest(t, "GET", "/healthz", nil)
	if req.Header.Get("Content-Type") != "" {
		t.Error("expected no content type without body")
	}
}

func TestMustUnmarshalJSON(t *testing.T) {
	var target map[string]interface{}
	MustUnmarshalJSON(t, []byte(`{"key":"value","number":123}`), &target)
	if target["key"] != "value" {
		t.Errorf("Expected key to be 'value', got %v", target["key"])
	}

	mockT := &mockTestingT{}
	MustUnmarshalJSON(mockT, []byte(`{`), &target)
	if !mockT.failed {
		t.Error("expected invalid JSON to fail")
	}
}

// mockTestingT records failures instead of stopping the test
type mockTestingT struct {
	failed   bool
	errorMsg string
}

func (m *mockTestingT) Helper() {}

func (m *mockTestingT) Errorf(format string, args ...interface{}) {
	m.failed = true
	m.errorMsg = fmt.Sprintf(format, args...)
}

func (m *mockTestingT) Error(args ...interface{}) {
	m.failed = true
	m.errorMsg = fmt.Sprint(args...)
}

func (m *mockTestingT) Fatalf(format string, args ...interface{}) {
	m.failed = true
	m.errorMsg = fmt.Sprintf(format, args...)
}

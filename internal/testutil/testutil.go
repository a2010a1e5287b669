// Package testutil provides common test utilities and fixtures for AltTutor tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/BTreeMap/AltTutor/internal/content"
	"github.com/BTreeMap/AltTutor/internal/models"
	"github.com/BTreeMap/AltTutor/internal/store"
)

// TB is the subset of testing.TB the helpers need, so they can be tested with a fake.
type TB interface {
	Helper()
	Errorf(format string, args ...interface{})
	Error(args ...interface{})
	Fatalf(format string, args ...interface{})
}

// SampleCatalog returns a small catalog: module "basics" with a one-question lesson and a lesson
// without questions, and module "food" with a single lesson.
func SampleCatalog() *content.Catalog {
	return content.NewCatalog([]content.Module{
		{
			ID:    "basics",
			Title: "Diabetes basics",
			Lessons: []content.Lesson{
				{
					ID:      "what-is",
					Title:   "What is diabetes",
					Content: "Diabetes is a condition of high blood glucose.",
					Questions: []content.Question{
						{Prompt: "Normal fasting glucose?", Options: []string{"2-3 mmol/L", "3.9-5.5 mmol/L", "8-10 mmol/L"}, CorrectOption: 1},
					},
				},
				{ID: "glossary", Title: "Glossary", Content: "Key terms."},
			},
		},
		{
			ID:    "food",
			Title: "Nutrition",
			Lessons: []content.Lesson{
				{
					ID:      "carbs",
					Title:   "Carbohydrates",
					Content: "Carbohydrates raise blood glucose.",
					Questions: []content.Question{
						{Prompt: "Which food raises glucose fastest?", Options: []string{"Juice", "Cheese"}, CorrectOption: 0},
					},
				},
			},
		},
	})
}

// SeedLearner stores a profile with the given points and completed lessons.
func SeedLearner(t TB, profiles store.ProfileStore, p models.UserProfile, completed ...models.LessonProgress) {
	t.Helper()
	ctx := context.Background()
	points := p.Points
	p.Points = 0
	if err := profiles.UpsertProfile(ctx, p); err != nil {
		t.Fatalf("failed to seed profile: %v", err)
	}
	if points > 0 {
		if _, err := profiles.AddPoints(ctx, p.UserID, points); err != nil {
			t.Fatalf("failed to seed points: %v", err)
		}
	}
	for _, lp := range completed {
		if err := profiles.MarkLessonCompleted(ctx, p.UserID, lp.ModuleID, lp.LessonID); err != nil {
			t.Fatalf("failed to seed progress: %v", err)
		}
	}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t TB, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
		return nil
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
			return nil
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
		return nil
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}

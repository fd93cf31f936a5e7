package arm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient(NewStaticTokenProvider("test-token"), Options{
		BaseURL:        srv.URL,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, zerolog.New(nil).Level(zerolog.Disabled))
	return client, srv
}

func TestGetManagementGroup(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Unexpected Authorization header: %q", got)
		}
		if got := r.URL.Query().Get("$expand"); got != "parent" {
			t.Errorf("Expected parent expansion, got %q", got)
		}
		fmt.Fprint(w, `{
			"id": "/providers/Microsoft.Management/managementGroups/landing-zones",
			"name": "landing-zones",
			"properties": {
				"displayName": "Landing Zones",
				"details": {"parent": {"id": "/providers/Microsoft.Management/managementGroups/root", "name": "root"}}
			}
		}`)
	}))

	mg, err := client.GetManagementGroup(context.Background(), "landing-zones")
	if err != nil {
		t.Fatalf("GetManagementGroup failed: %v", err)
	}
	if mg.Name != "landing-zones" || mg.DisplayName != "Landing Zones" {
		t.Errorf("Unexpected group: %+v", mg)
	}
	if mg.Parent == nil || mg.Parent.Name != "root" {
		t.Errorf("Expected parent root, got %+v", mg.Parent)
	}
}

func TestListPolicyAssignments_Pagination(t *testing.T) {
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("$filter"); got != "atExactScope()" {
			t.Errorf("Expected atExactScope filter, got %q", got)
		}
		fmt.Fprintf(w, `{
			"value": [{"id": "/a1", "name": "a1", "properties": {"policyDefinitionId": "/pd1", "scope": "/s"}}],
			"nextLink": "%s/page2"
		}`, srvURL)
	})
	mux.HandleFunc("/page2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value": [{"id": "/a2", "name": "a2", "properties": {"policyDefinitionId": "/pd2", "scope": "/s"}}]}`)
	})

	client, srv := testClient(t, mux)
	srvURL = srv.URL

	assignments, err := client.ListPolicyAssignments(context.Background(), "/subscriptions/s")
	if err != nil {
		t.Fatalf("ListPolicyAssignments failed: %v", err)
	}
	if len(assignments) != 2 {
		t.Fatalf("Expected 2 assignments across pages, got %d", len(assignments))
	}
	if assignments[1].ID != "/a2" {
		t.Errorf("Unexpected second assignment: %+v", assignments[1])
	}
}

func TestListPolicyExemptions_ScopeFilters(t *testing.T) {
	exemption := `{
		"value": [{
			"id": "/subscriptions/s/resourceGroups/rg1/providers/microsoft.authorization/policyexemptions/w1",
			"name": "w1",
			"properties": {"policyAssignmentId": "/a1", "exemptionCategory": "Waiver"}
		}]
	}`

	var filters []string
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filters = append(filters, r.URL.Query().Get("$filter"))
		fmt.Fprint(w, exemption)
	}))

	// The subscription listing must be unfiltered so exemptions declared
	// on resource groups and resources inside it come back too.
	got, err := client.ListPolicyExemptions(context.Background(), "/subscriptions/s")
	if err != nil {
		t.Fatalf("ListPolicyExemptions failed: %v", err)
	}
	if len(got) != 1 || got[0].Name != "w1" {
		t.Fatalf("Unexpected exemptions: %+v", got)
	}

	if _, err := client.ListPolicyExemptions(context.Background(), "/providers/Microsoft.Management/managementGroups/corp"); err != nil {
		t.Fatalf("ListPolicyExemptions failed: %v", err)
	}

	want := []string{"", "atExactScope()"}
	for i, f := range filters {
		if f != want[i] {
			t.Errorf("Request %d filter = %q, want %q", i, f, want[i])
		}
	}
}

func TestRetry_TransientThenSuccess(t *testing.T) {
	var calls int32
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"id": "/r", "name": "r", "type": "Microsoft.Compute/virtualMachines", "location": "westeurope"}`)
	}))

	res, err := client.GetResource(context.Background(), "/subscriptions/s/resourceGroups/rg/providers/Microsoft.Compute/virtualMachines/vm1")
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if res.Location != "westeurope" {
		t.Errorf("Unexpected resource: %+v", res)
	}
	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
}

func TestRetry_StopsAtMaxAttempts(t *testing.T) {
	var calls int32
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := client.GetResource(context.Background(), "/subscriptions/s/providers/Microsoft.Compute/virtualMachines/vm1")
	if err == nil {
		t.Fatal("Expected terminal failure")
	}
	if calls != 3 {
		t.Errorf("Expected exactly 3 attempts, got %d", calls)
	}
}

func TestRetry_PermanentNotRetried(t *testing.T) {
	var calls int32
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error": {"code": "ResourceNotFound", "message": "not found"}}`)
	}))

	_, err := client.GetResource(context.Background(), "/subscriptions/s/providers/Microsoft.Compute/virtualMachines/vm1")
	if err == nil {
		t.Fatal("Expected error")
	}
	if !IsNotFound(err) {
		t.Errorf("Expected not-found classification, got %v", err)
	}
	if calls != 1 {
		t.Errorf("404 must not be retried, got %d attempts", calls)
	}
}

func TestRetry_HonorsRetryAfter(t *testing.T) {
	var calls int32
	start := time.Now()
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"id": "/r", "name": "r", "type": "t", "location": "l"}`)
	}))

	_, err := client.GetResource(context.Background(), "/subscriptions/s/providers/Microsoft.Compute/virtualMachines/vm1")
	if err != nil {
		t.Fatalf("Expected success after throttle, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Errorf("Expected the retry to honor the 1s hint, finished in %v", elapsed)
	}
}

func TestErrorMessage_FromBody(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error": {"code": "AuthorizationFailed", "message": "denied"}}`)
	}))

	_, err := client.GetManagementGroup(context.Background(), "mg")
	if err == nil {
		t.Fatal("Expected error")
	}
	if got := err.Error(); !strings.Contains(got, "AuthorizationFailed") {
		t.Errorf("Expected ARM error code in message, got %q", got)
	}
}
